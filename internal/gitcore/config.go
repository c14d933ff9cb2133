package gitcore

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBranchName is used when init.defaultBranch is not configured.
const DefaultBranchName = "main"

// Config holds the recognized repository configuration. It is stored as
// sectioned key/value text under the "config" store key and fixed fields
// (the hash algorithm in particular) never change after init.
type Config struct {
	// HashAlgorithm is core.hashAlgorithm; fixed at init.
	HashAlgorithm Algorithm
	// Bare is core.bare; a bare repository has no working tree.
	Bare bool
	// UserName and UserEmail are user.name / user.email, the default
	// author and committer identity.
	UserName  string
	UserEmail string
	// DefaultBranch is init.defaultBranch.
	DefaultBranch string
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = SHA1
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = DefaultBranchName
	}
	return c
}

// encode renders the config in git-style sectioned text.
func (c Config) encode() []byte {
	var sb strings.Builder
	sb.WriteString("[core]\n")
	fmt.Fprintf(&sb, "\thashAlgorithm = %s\n", c.HashAlgorithm)
	fmt.Fprintf(&sb, "\tbare = %t\n", c.Bare)
	if c.UserName != "" || c.UserEmail != "" {
		sb.WriteString("[user]\n")
		if c.UserName != "" {
			fmt.Fprintf(&sb, "\tname = %s\n", c.UserName)
		}
		if c.UserEmail != "" {
			fmt.Fprintf(&sb, "\temail = %s\n", c.UserEmail)
		}
	}
	sb.WriteString("[init]\n")
	fmt.Fprintf(&sb, "\tdefaultBranch = %s\n", c.DefaultBranch)
	return []byte(sb.String())
}

// parseConfig parses sectioned key/value text. Unrecognized sections or
// keys are rejected: the recognized set is the contract.
func parseConfig(data []byte) (Config, error) {
	cfg := Config{}.withDefaults()
	section := ""

	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return Config{}, fmt.Errorf("%w: config line %d: %q", ErrMalformed, lineNo+1, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section + "." + key {
		case "core.hashAlgorithm":
			algo, err := ParseAlgorithm(value)
			if err != nil {
				return Config{}, err
			}
			cfg.HashAlgorithm = algo
		case "core.bare":
			bare, err := strconv.ParseBool(value)
			if err != nil {
				return Config{}, fmt.Errorf("%w: core.bare = %q", ErrMalformed, value)
			}
			cfg.Bare = bare
		case "user.name":
			cfg.UserName = value
		case "user.email":
			cfg.UserEmail = value
		case "init.defaultBranch":
			if err := ValidateRefName("refs/heads/" + value); err != nil {
				return Config{}, err
			}
			cfg.DefaultBranch = value
		default:
			return Config{}, fmt.Errorf("%w: config key %s.%s", ErrInvalidName, section, key)
		}
	}

	return cfg, nil
}
