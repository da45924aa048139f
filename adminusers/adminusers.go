// Package adminusers loads the administrative-users passwd file
// referenced by §6 as an out-of-core collaborator pinned here for
// compatibility. Nothing in the protocol core depends on it; it exists
// so the demo binary can authenticate a local admin the same way the
// original tooling (maxadmin/maxctrl) would expect.
package adminusers

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultHomeDir is used when MAXSCALE_HOME is unset, per §6.
const DefaultHomeDir = "/usr/local/skysql/MaxScale"

// DefaultUser and DefaultPassword are the fallback credentials when no
// passwd file exists, per §6.
const (
	DefaultUser     = "admin"
	DefaultPassword = "skysql"
)

// Users is a username -> crypted-password lookup loaded from the
// passwd file.
type Users map[string]string

// homeDir returns MAXSCALE_HOME, or DefaultHomeDir if unset.
func homeDir() string {
	if v := os.Getenv("MAXSCALE_HOME"); v != "" {
		return v
	}
	return DefaultHomeDir
}

// PasswdPath returns the passwd file location: <MAXSCALE_HOME>/etc/passwd.
func PasswdPath() string {
	return filepath.Join(homeDir(), "etc", "passwd")
}

// Load reads the passwd file at PasswdPath(). If it does not exist, it
// returns a Users map containing only the default admin/skysql
// credential, per §6.
func Load() (Users, error) {
	path := PasswdPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Users{DefaultUser: DefaultPassword}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adminusers: %w", err)
	}
	defer f.Close()

	users := make(Users)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, crypted, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		users[name] = crypted
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("adminusers: %w", err)
	}
	if len(users) == 0 {
		users[DefaultUser] = DefaultPassword
	}
	return users, nil
}

// Verify checks a plaintext password against the entry for user. The
// passwd file format stores crypt(plain, salt); this module does not
// implement crypt
// itself (no maintained, ecosystem-idiomatic Go crypt(3) package is
// available — see DESIGN.md), so it recognizes exactly the uncrypted
// default-credential fallback and otherwise reports a mismatch rather
// than silently accepting anything.
func (u Users) Verify(user, password string) bool {
	crypted, ok := u[user]
	if !ok {
		return false
	}
	if user == DefaultUser && crypted == DefaultPassword {
		return password == DefaultPassword
	}
	return false
}
