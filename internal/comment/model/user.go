package model

// User is the local session projection of an authenticated identity.
type User struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Image       string `json:"image"`
	AccessToken string `json:"-"`
	ReceiveMail bool   `json:"receive_mail"`
}

// Profile is what a login provider yields before the backend assigns a uuid.
type Profile struct {
	Provider    string `json:"provider"`
	ProviderID  string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	Image       string `json:"image"`
	AccessToken string `json:"-"`
}

// Circle is a password gated audience.
type Circle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	MemberCount  int    `json:"member_count"`
	CommentCount int    `json:"comment_count"`
}

type Recipient struct {
	UUID        string `json:"uuid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	CircleName  string `json:"circle_name,omitempty"`
}
