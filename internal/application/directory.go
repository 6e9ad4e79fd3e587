package application

import (
	"slices"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

// bridgeDirectory applies the bridge's own addressing rules on top of the
// contributor directory.
type bridgeDirectory struct {
	inner   driven.Directory
	ignored []string
	sender  model.Address
}

var _ driven.Directory = bridgeDirectory{}

// EmailAuthor maps ignored users to the bot address and bridged senders to
// their own address. Users unknown to the directory are mailed under their
// own name from the bot address.
func (d bridgeDirectory) EmailAuthor(user model.User) model.Address {
	if slices.Contains(d.ignored, user.Login) {
		return d.sender
	}
	if user.IsBridged() {
		return model.Address{Name: user.FullName, Address: user.Email}
	}
	if a := d.inner.EmailAuthor(user); !a.IsZero() {
		return a
	}
	return model.Address{Name: user.DisplayName(), Address: d.sender.Address}
}

func (d bridgeDirectory) Username(user model.User) string {
	return d.inner.Username(user)
}

func (d bridgeDirectory) Role(user model.User) string {
	return d.inner.Role(user)
}
