package protocol

import "time"

// Message is the full persisted record as seen by clients.
type Message struct {
	ID          int64      `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReadAt      *time.Time `json:"readAt"`
	SenderName  string     `json:"senderName,omitempty"`
}

// User is the public part of an account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contact is one entry of the caller's contact list.
type Contact struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ConnectedSince time.Time `json:"connectedSince"`
	Online         bool      `json:"online"`
}

// Request and response bodies of the HTTP API.
type (
	RegisterRequest struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	AuthResponse struct {
		User      User      `json:"user"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	UserResponse struct {
		User User `json:"user"`
	}
	UsersResponse struct {
		Users []User `json:"users"`
	}
	AddContactRequest struct {
		ContactID string `json:"contactId"`
	}
	ContactResponse struct {
		Contact Contact `json:"contact"`
	}
	ContactsResponse struct {
		Contacts []Contact `json:"contacts"`
	}
	SendRequest struct {
		RecipientID string `json:"recipientId"`
		Content     string `json:"content"`
	}
	MessageResponse struct {
		Message Message `json:"message"`
	}
	MessagesResponse struct {
		Messages []Message `json:"messages"`
	}
	UnreadResponse struct {
		UnreadCounts map[string]int `json:"unreadCounts"`
	}
	ErrorResponse struct {
		Error string `json:"error"`
	}
)
