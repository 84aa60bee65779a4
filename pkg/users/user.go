// Package users is the transport for the user directory API. It defines the
// User schema, the query descriptors for the directory's endpoints, the sources
// that serve raw payloads, and the fetcher that validates them.
package users

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// Endpoints served by this package.
const (
	EndpointList   = "users"
	EndpointDetail = "user"
)

// User is a directory entry. Every field is optional in the API description,
// so each one is a pointer.
type User struct {
	ID       *int64  `json:"id,omitempty" firestore:"id,omitempty"`
	UserName *string `json:"userName,omitempty" firestore:"userName,omitempty"`
	Password *string `json:"password,omitempty" firestore:"password,omitempty"`
}

// NewUser builds a fully populated User.
func NewUser(id int64, userName, password string) User {
	return User{ID: &id, UserName: &userName, Password: &password}
}

// GetID returns the user's id and whether it is set.
func (u User) GetID() (int64, bool) {
	if u.ID == nil {
		return 0, false
	}
	return *u.ID, true
}

// GetUserName returns the user name or "".
func (u User) GetUserName() string {
	if u.UserName == nil {
		return ""
	}
	return *u.UserName
}

// GetPassword returns the password or "".
func (u User) GetPassword() string {
	if u.Password == nil {
		return ""
	}
	return *u.Password
}

// List describes the request for every user.
func List() querykey.Descriptor {
	return querykey.New(EndpointList)
}

// ByID describes the request for a single user.
func ByID(id int64) querykey.Descriptor {
	return querykey.New(EndpointDetail, querykey.Path("id", id))
}

// DecodeList validates a list payload.
func DecodeList(raw json.RawMessage) ([]User, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("expected an array of users, got null")
	}
	var list []User
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("invalid user list: %w", err)
	}
	return list, nil
}

// DecodeUser validates a single-user payload. A null body decodes to nil.
func DecodeUser(raw json.RawMessage) (*User, error) {
	if isNull(raw) {
		return nil, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	return &u, nil
}

func isNull(raw json.RawMessage) bool {
	var v any
	return len(raw) == 0 || (json.Unmarshal(raw, &v) == nil && v == nil)
}
