package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

// RosterFile is the TOML file holding the seed roster and the
// operator allowlist. Seeding is insert-or-ignore: re-applying the
// file never touches members that already progressed past pending.
//
//	[[members]]
//	identity = "alice"
//	display_name = "Alice"
//
//	[[operators]]
//	name = "root"
//	user_id = 100
//	token = "s3cret"
type RosterFile struct {
	Members   []RosterMember `toml:"members"`
	Operators []Operator     `toml:"operators"`
}

type RosterMember struct {
	Identity    string `toml:"identity"`
	DisplayName string `toml:"display_name"`
}

// Operator can call the admin API with its token and receives
// operator alerts at its platform user id.
type Operator struct {
	Name   string `toml:"name"`
	UserID int64  `toml:"user_id"`
	Token  string `toml:"token"`
}

func LoadRoster(path string) (RosterFile, error) {
	var roster RosterFile
	if _, err := toml.DecodeFile(path, &roster); err != nil {
		return roster, fmt.Errorf("decode roster file: %w", err)
	}
	seen := make(map[string]bool, len(roster.Members))
	for i, m := range roster.Members {
		identity := server.NormalizeIdentity(m.Identity)
		if identity == "" {
			return roster, fmt.Errorf("roster entry %d has an empty identity", i)
		}
		if seen[identity] {
			return roster, fmt.Errorf("duplicate roster identity %q", identity)
		}
		seen[identity] = true
		roster.Members[i].Identity = identity
	}
	for _, op := range roster.Operators {
		if op.Token == "" {
			return roster, fmt.Errorf("operator %q has an empty token", op.Name)
		}
	}
	return roster, nil
}

// Tokens returns the operator token allowlist keyed by token.
func (r RosterFile) Tokens() map[string]string {
	tokens := make(map[string]string, len(r.Operators))
	for _, op := range r.Operators {
		tokens[op.Token] = op.Name
	}
	return tokens
}

// OperatorIDs returns the platform user ids that receive alerts.
func (r RosterFile) OperatorIDs() []int64 {
	ids := make([]int64, 0, len(r.Operators))
	for _, op := range r.Operators {
		if op.UserID != 0 {
			ids = append(ids, op.UserID)
		}
	}
	return ids
}
