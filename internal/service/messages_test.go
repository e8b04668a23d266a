package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/repository"
	"github.com/and161185/duochat/internal/security"
	"github.com/gofrs/uuid/v5"
)

type fakeMessages struct {
	appendCalls int
	appendIn    string
	appendErr   error

	convLimit, convOffset int

	markIn  int64
	markOut model.Message
	markErr error
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Append(_ context.Context, s, r uuid.UUID, content string) (model.Message, error) {
	f.appendCalls++
	f.appendIn = content
	if f.appendErr != nil {
		return model.Message{}, f.appendErr
	}
	return model.Message{ID: int64(f.appendCalls), SenderID: s, RecipientID: r, Content: content, CreatedAt: time.Now()}, nil
}
func (f *fakeMessages) Conversation(_ context.Context, _, _ uuid.UUID, limit, offset int) ([]model.Message, error) {
	f.convLimit, f.convOffset = limit, offset
	return nil, nil
}
func (f *fakeMessages) MarkRead(_ context.Context, id int64, _ uuid.UUID) (model.Message, error) {
	f.markIn = id
	return f.markOut, f.markErr
}
func (f *fakeMessages) UnreadCounts(context.Context, uuid.UUID) (model.UnreadCounts, error) {
	return model.UnreadCounts{}, nil
}

func TestMessages_Append_Validation(t *testing.T) {
	t.Parallel()
	repo := &fakeMessages{}
	s := NewMessageService(repo, security.NewTextSanitizer())
	ctx := context.Background()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	for name, tc := range map[string]struct {
		s, r    uuid.UUID
		content string
	}{
		"blank":        {a, b, "   \n\t"},
		"markup only":  {a, b, "<script>x</script>"},
		"no recipient": {a, uuid.Nil, "hi"},
		"self":         {a, a, "hi"},
		"too long":     {a, b, strings.Repeat("я", MaxContentLen+1)},
	} {
		if _, err := s.Append(ctx, tc.s, tc.r, tc.content); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("%s: want ErrInvalidArgument, got %v", name, err)
		}
	}
	if repo.appendCalls != 0 {
		t.Fatalf("store must not be touched on invalid input, calls=%d", repo.appendCalls)
	}

	m, err := s.Append(ctx, a, b, "  <b>hi</b> there  ")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if repo.appendIn != "hi there" || m.Content != "hi there" {
		t.Fatalf("content not cleaned: %q", repo.appendIn)
	}
}

func TestMessages_Append_PersistenceFailureWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("store down")
	repo := &fakeMessages{appendErr: boom}
	s := NewMessageService(repo, nil)

	_, err := s.Append(context.Background(), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), "hi")
	if !errors.Is(err, boom) || errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
	if repo.appendCalls != 1 {
		t.Fatalf("append must be attempted exactly once, got %d", repo.appendCalls)
	}
}

func TestMessages_Conversation_Paging(t *testing.T) {
	t.Parallel()
	repo := &fakeMessages{}
	s := NewMessageService(repo, nil)
	ctx := context.Background()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	_, _ = s.Conversation(ctx, a, b, 0, 0)
	if repo.convLimit != DefaultPageSize {
		t.Fatalf("default limit: %d", repo.convLimit)
	}
	_, _ = s.Conversation(ctx, a, b, 1000, 40)
	if repo.convLimit != MaxPageSize || repo.convOffset != 40 {
		t.Fatalf("capped limit/offset: %d/%d", repo.convLimit, repo.convOffset)
	}
	if _, err := s.Conversation(ctx, a, b, 10, -1); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("negative offset: %v", err)
	}
}

func TestMessages_MarkRead(t *testing.T) {
	t.Parallel()
	repo := &fakeMessages{markErr: errs.ErrNotFound}
	s := NewMessageService(repo, nil)
	me := uuid.Must(uuid.NewV4())

	if _, err := s.MarkRead(context.Background(), me, 0); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("zero id: %v", err)
	}
	if _, err := s.MarkRead(context.Background(), me, 5); !errors.Is(err, errs.ErrNotFound) || repo.markIn != 5 {
		t.Fatalf("unknown id: %v (in=%d)", err, repo.markIn)
	}
}
