package embedded

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/fluxsets/cargo"
	"golang.org/x/crypto/bcrypt"
)

// hashCost is the bcrypt cost used for realm passwords.
var hashCost = bcrypt.DefaultCost

type realmUser struct {
	hash  []byte
	roles []string
}

// Realm authenticates requests with HTTP basic auth against a fixed set of
// principals. It is built once before start and never modified.
type Realm struct {
	name  string
	users map[string]realmUser
}

func NewRealm(name string, principals []cargo.Principal) (*Realm, error) {
	r := &Realm{name: name, users: make(map[string]realmUser, len(principals))}
	for _, p := range principals {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), hashCost)
		if err != nil {
			return nil, fmt.Errorf("%w: principal %s: %w", cargo.ErrConfiguration, p.Name, err)
		}
		r.users[p.Name] = realmUser{hash: hash, roles: slices.Clone(p.Roles)}
	}
	return r, nil
}

func (r *Realm) Name() string {
	return r.name
}

// Authenticate returns the roles of name when password matches.
func (r *Realm) Authenticate(name, password string) ([]string, bool) {
	u, ok := r.users[name]
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return nil, false
	}
	return slices.Clone(u.roles), true
}

// Protect requires valid realm credentials before calling next.
func (r *Realm) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		name, password, ok := req.BasicAuth()
		if ok {
			if _, ok = r.Authenticate(name, password); ok {
				next.ServeHTTP(w, req)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="`+r.name+`", charset="UTF-8"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}
