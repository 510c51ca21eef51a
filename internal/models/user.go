package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserID is a positive user identifier. It decodes from a JSON number or a
// numeric string, since browser clients send either.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id UserID) Valid() bool {
	return id >= 1
}

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseUserID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = UserID(n)
	return nil
}

// ParseUserID parses a decimal user id.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user id %q: %w", s, err)
	}
	return UserID(n), nil
}

type User struct {
	ID           UserID `json:"id"`
	Username     string `json:"username"`
	PasswordHash []byte `json:"-"`
}

// Public strips the password hash.
func (u *User) Public() *User {
	return &User{ID: u.ID, Username: u.Username}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// OnlineUser is the presence view returned by the user endpoints.
type OnlineUser struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}
