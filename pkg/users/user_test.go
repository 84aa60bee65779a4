package users_test

import (
	"encoding/json"
	"testing"

	"github.com/illmade-knight/go-userquery/pkg/querykey"
	"github.com/illmade-knight/go-userquery/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptors(t *testing.T) {
	assert.Equal(t, querykey.Key("users"), users.List().Key())
	assert.Equal(t, querykey.Key("user|path:id=1"), users.ByID(1).Key())
	assert.NotEqual(t, users.ByID(1).Key(), users.ByID(2).Key())
}

func TestDecodeList(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    []users.User
		wantErr bool
	}{
		{name: "Single user", raw: `[{"id":1,"userName":"ann"}]`, want: []users.User{{ID: ptr(int64(1)), UserName: ptr("ann")}}},
		{name: "Empty list", raw: `[]`, want: []users.User{}},
		{name: "All fields optional", raw: `[{}]`, want: []users.User{{}}},
		{name: "Unknown fields ignored", raw: `[{"id":2,"email":"b@example.com"}]`, want: []users.User{{ID: ptr(int64(2))}}},
		{name: "Null body", raw: `null`, wantErr: true},
		{name: "Object instead of array", raw: `{"id":1}`, wantErr: true},
		{name: "Wrong id type", raw: `[{"id":"one"}]`, wantErr: true},
		{name: "Fractional id", raw: `[{"id":1.5}]`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := users.DecodeList(json.RawMessage(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeUser(t *testing.T) {
	t.Run("Valid user", func(t *testing.T) {
		u, err := users.DecodeUser(json.RawMessage(`{"id":1,"userName":"ann","password":"secret"}`))
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, users.NewUser(1, "ann", "secret"), *u)
	})

	t.Run("Null body is no user", func(t *testing.T) {
		u, err := users.DecodeUser(json.RawMessage(` null `))
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("Array is rejected", func(t *testing.T) {
		_, err := users.DecodeUser(json.RawMessage(`[]`))
		assert.Error(t, err)
	})
}

func TestUserGetters(t *testing.T) {
	var empty users.User
	_, ok := empty.GetID()
	assert.False(t, ok)
	assert.Empty(t, empty.GetUserName())
	assert.Empty(t, empty.GetPassword())

	u := users.NewUser(7, "gus", "pw")
	id, ok := u.GetID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "gus", u.GetUserName())
	assert.Equal(t, "pw", u.GetPassword())
}

func ptr[T any](v T) *T { return &v }
