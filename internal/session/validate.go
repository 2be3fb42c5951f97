package session

import (
	"fmt"

	"github.com/matheus3301/shopchat/internal/chat"
)

// ValidateUser checks that user can be used as an identity and a directory name.
func ValidateUser(user string) error {
	if user == "." || user == ".." {
		return fmt.Errorf("invalid user id %q", user)
	}
	return chat.ValidateUserID(chat.UserID(user))
}
