// Package userview renders the user directory's list and detail screens as
// view models derived from query state, and serves them over HTTP.
package userview

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/users"
)

// View statuses.
const (
	StatusLoading  = "loading"
	StatusReady    = "ready"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

const (
	maskedPassword = "••••••••"
	loadingMessage = "Loading..."
	backLabel      = "Back to Users"
)

// Link is a navigation target.
type Link struct {
	Href  string `json:"href"`
	Label string `json:"label"`
}

// Panel is the message shown instead of content while loading or after a
// failure.
type Panel struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Back    *Link  `json:"back,omitempty"`
}

// Card summarizes one user in the list.
type Card struct {
	Initial     string `json:"initial"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	HasPassword bool   `json:"hasPassword"`
	Link        *Link  `json:"link,omitempty"`
}

// ListView is the list screen.
type ListView struct {
	Status     string `json:"status"`
	Title      string `json:"title"`
	CountLabel string `json:"countLabel,omitempty"`
	Cards      []Card `json:"cards,omitempty"`
	Empty      string `json:"empty,omitempty"`
	Refreshing bool   `json:"refreshing,omitempty"`
	Panel      *Panel `json:"panel,omitempty"`
}

// Profile is the detail screen's user card.
type Profile struct {
	Initial  string `json:"initial"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// DetailView is the single-user screen.
type DetailView struct {
	Status     string   `json:"status"`
	Back       Link     `json:"back"`
	Profile    *Profile `json:"profile,omitempty"`
	Refreshing bool     `json:"refreshing,omitempty"`
	Panel      *Panel   `json:"panel,omitempty"`
}

func backLink() Link { return Link{Href: "/", Label: backLabel} }

// NewListView derives the list screen from the list resource. A cached list
// stays on screen while it is being refetched.
func NewListView(r query.Resource[[]users.User]) ListView {
	v := ListView{Title: "Users"}
	switch {
	case r.IsError():
		v.Status = StatusError
		v.Panel = &Panel{Title: "Error", Message: errorMessage(r.Err)}
		return v
	case !r.HasValue:
		v.Status = StatusLoading
		v.Panel = &Panel{Message: loadingMessage}
		return v
	}

	v.Status = StatusReady
	v.Refreshing = r.IsLoading()
	v.CountLabel = countLabel(len(r.Value))
	if len(r.Value) == 0 {
		v.Empty = "No users found"
		return v
	}
	v.Cards = make([]Card, 0, len(r.Value))
	for _, u := range r.Value {
		v.Cards = append(v.Cards, newCard(u))
	}
	return v
}

// NewDetailView derives the detail screen for the user routed as routeID.
func NewDetailView(routeID string, r query.Resource[users.User]) DetailView {
	v := DetailView{Back: backLink()}
	switch {
	case r.IsError() && fetch.IsNotFound(r.Err):
		return notFoundView(routeID)
	case r.IsError():
		back := backLink()
		v.Status = StatusError
		v.Panel = &Panel{Title: "Error", Message: errorMessage(r.Err), Back: &back}
		return v
	case !r.HasValue:
		v.Status = StatusLoading
		v.Panel = &Panel{Message: loadingMessage}
		return v
	}

	u := r.Value
	v.Status = StatusReady
	v.Refreshing = r.IsLoading()
	v.Profile = &Profile{
		Initial:  initial(u.GetUserName()),
		Name:     orDefault(u.GetUserName(), "Unknown User"),
		ID:       "N/A",
		UserName: orDefault(u.GetUserName(), "Not provided"),
		Password: "Not set",
	}
	if id, ok := u.GetID(); ok {
		v.Profile.ID = strconv.FormatInt(id, 10)
	}
	if u.GetPassword() != "" {
		v.Profile.Password = maskedPassword
	}
	return v
}

// ParseID parses a route id. Only base-10 integers are user ids.
func ParseID(routeID string) (int64, bool) {
	id, err := strconv.ParseInt(routeID, 10, 64)
	return id, err == nil
}

func notFoundView(routeID string) DetailView {
	back := backLink()
	return DetailView{
		Status: StatusNotFound,
		Back:   back,
		Panel: &Panel{
			Title:   "User not found",
			Message: fmt.Sprintf("The user with ID %s could not be found.", routeID),
			Back:    &back,
		},
	}
}

func newCard(u users.User) Card {
	c := Card{
		Initial:     initial(u.GetUserName()),
		Name:        orDefault(u.GetUserName(), "Unknown User"),
		ID:          "N/A",
		HasPassword: u.GetPassword() != "",
	}
	if id, ok := u.GetID(); ok {
		c.ID = strconv.FormatInt(id, 10)
		c.Link = &Link{Href: "/" + strconv.FormatInt(id, 10), Label: c.Name}
	}
	return c
}

func countLabel(n int) string {
	if n == 1 {
		return "1 user"
	}
	return fmt.Sprintf("%d users", n)
}

func initial(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 || r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func errorMessage(err error) string {
	if err == nil {
		return "An unknown error occurred"
	}
	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return strings.TrimSpace(fe.Err.Error())
	}
	return err.Error()
}
