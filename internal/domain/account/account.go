// Package account models the learner accounts the bot drives. Accounts are
// immutable after load: the orchestrator owns the list and lends each record
// to exactly one worker at a time.
package account

import (
	"errors"
	"fmt"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
)

var ErrMissingCredentials = errors.New("account is missing username or password")

// Account is a single learner's configuration record.
type Account struct {
	// Name identifies the account in logs, notifications and the scratch
	// workspace. Defaults to the username when left empty in configuration.
	Name     string
	Username string
	Password string
	Enabled  bool

	// Monitored lists the categories this account polls, in processing
	// order.
	Monitored []session.Category
}

// Validate reports whether the account carries enough data to log in.
func (a Account) Validate() error {
	if a.Username == "" || a.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Normalize assigns default names and drops accounts that cannot be used.
// The second return value lists the names of skipped accounts so the caller
// can warn about them.
func Normalize(accounts []Account, defaultMonitored []session.Category) (valid []Account, skipped []string) {
	for i, acc := range accounts {
		if acc.Name == "" {
			if acc.Username != "" {
				acc.Name = acc.Username
			} else {
				acc.Name = fmt.Sprintf("account_%d", i+1)
			}
		}
		if err := acc.Validate(); err != nil {
			skipped = append(skipped, acc.Name)
			continue
		}
		if len(acc.Monitored) == 0 {
			acc.Monitored = append([]session.Category(nil), defaultMonitored...)
		}
		valid = append(valid, acc)
	}
	return valid, skipped
}
