package user_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/PressureTank/credstore/backend/database/sqlite"
	"github.com/PressureTank/credstore/backend/sanitize"
	"github.com/PressureTank/credstore/backend/user"
)

type recordingAuditor struct {
	created []string
	logins  []string
}

func (r *recordingAuditor) UserCreated(username string)    { r.created = append(r.created, username) }
func (r *recordingAuditor) LoginSucceeded(username string) { r.logins = append(r.logins, username) }

type fixture struct {
	svc   *user.Service
	store *sqlite.SQLiteDB
	audit *recordingAuditor
}

func newFixture(t *testing.T, name string, mode sanitize.Mode, opts ...user.Option) fixture {
	t.Helper()
	d, err := sqlite.Open("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	store := sqlite.NewSQLiteDB(d, logger, sqlite.Options{Roles: true})
	t.Cleanup(func() { _ = store.Close() })

	hasher, err := user.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	rec := &recordingAuditor{}
	opts = append([]user.Option{user.WithAuditor(rec)}, opts...)
	svc := user.NewService(store, sanitize.New(mode), hasher, logger, opts...)
	require.NoError(t, svc.InitSchema(context.Background()))
	return fixture{svc: svc, store: store, audit: rec}
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, "svc_e2e", sanitize.ModeBlacklist)
	ctx := context.Background()

	created, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", created.Username)
	assert.Empty(t, created.Password)

	got, err := f.svc.Authenticate(ctx, "admin", "1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "admin", got.Username)
	assert.Equal(t, created.ID, got.ID)
	assert.Empty(t, got.Password)

	got, err = f.svc.Authenticate(ctx, "admin", "wrong")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.svc.CreateUser(ctx, "admin", "5678", "user")
	assert.ErrorIs(t, err, user.ErrDuplicateUsername)

	n, err := f.store.CountUsers(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"admin"}, f.audit.created)
	assert.Equal(t, []string{"admin"}, f.audit.logins)
}

func TestPasswordStoredAsHash(t *testing.T) {
	f := newFixture(t, "svc_hash", sanitize.ModeBlacklist)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, "alice", "s3cret", "user")
	require.NoError(t, err)

	stored, err := f.store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "s3cret", stored.Password)
	assert.True(t, strings.HasPrefix(stored.Password, "$2"), "expected bcrypt hash, got %q", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("s3cret")))
}

func TestSaltedHashesDiffer(t *testing.T) {
	f := newFixture(t, "svc_salt", sanitize.ModeBlacklist)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, "u1", "same", "")
	require.NoError(t, err)
	_, err = f.svc.CreateUser(ctx, "u2", "same", "")
	require.NoError(t, err)

	a, _ := f.store.GetUserByUsername(ctx, "u1")
	b, _ := f.store.GetUserByUsername(ctx, "u2")
	assert.NotEqual(t, a.Password, b.Password)
}

func TestAuthenticate_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t, "svc_enum", sanitize.ModeBlacklist)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
	require.NoError(t, err)

	wrongUser, errWrongUser := f.svc.Authenticate(ctx, "nobody", "1234")
	wrongPass, errWrongPass := f.svc.Authenticate(ctx, "admin", "nope")

	assert.Nil(t, wrongUser)
	assert.Nil(t, wrongPass)
	assert.Equal(t, errWrongUser, errWrongPass)
	assert.NoError(t, errWrongUser)
	assert.Empty(t, f.audit.logins)
}

func TestAuthenticate_InjectionAttemptFails(t *testing.T) {
	for _, mode := range []sanitize.Mode{sanitize.ModeBlacklist, sanitize.ModeAllowlist} {
		t.Run(mode.String(), func(t *testing.T) {
			f := newFixture(t, "svc_inject_"+mode.String(), mode)
			ctx := context.Background()
			_, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
			require.NoError(t, err)

			for _, attempt := range [][2]string{
				{"admin' --", "x"},
				{"admin'; --", "1234x"},
				{"' OR '1'='1", "' OR '1'='1"},
				{"admin", "' OR '1'='1"},
			} {
				got, err := f.svc.Authenticate(ctx, attempt[0], attempt[1])
				require.NoError(t, err)
				assert.Nil(t, got, "attempt %q / %q", attempt[0], attempt[1])
			}
		})
	}
}

func TestAuthenticate_BoundParametersWithoutSanitizing(t *testing.T) {
	f := newFixture(t, "svc_raw", sanitize.ModeBlacklist, user.WithPasswordSanitizing(false))
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "admin", "p'; --\"", "admin")
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, "admin", "p'; --\"")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = f.svc.Authenticate(ctx, "admin", "p")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateUser_InvalidInput(t *testing.T) {
	cases := []struct {
		name, username, password string
	}{
		{"empty username", "", "pw"},
		{"blank username", "   ", "pw"},
		{"username only dangerous chars", "';--", "pw"},
		{"empty password", "bob", ""},
		{"blank password", "bob", " \t "},
		{"password too long", "bob", strings.Repeat("a", 73)},
	}
	for _, sanitizePasswords := range []bool{true, false} {
		f := newFixture(t, fmt.Sprintf("svc_invalid_%t", sanitizePasswords), sanitize.ModeBlacklist,
			user.WithPasswordSanitizing(sanitizePasswords))
		ctx := context.Background()
		for _, tc := range cases {
			t.Run(fmt.Sprintf("%s/sanitizePasswords=%t", tc.name, sanitizePasswords), func(t *testing.T) {
				u, err := f.svc.CreateUser(ctx, tc.username, tc.password, "user")
				assert.Nil(t, u)
				assert.ErrorIs(t, err, user.ErrInvalidInput)
			})
		}
		assert.Empty(t, f.audit.created)
	}
}

func TestWhitespacePassword_RejectedWithoutSanitizing(t *testing.T) {
	f := newFixture(t, "svc_ws_password", sanitize.ModeAllowlist, user.WithPasswordSanitizing(false))
	ctx := context.Background()

	u, err := f.svc.CreateUser(ctx, "carol", "   ", "user")
	assert.Nil(t, u)
	assert.ErrorIs(t, err, user.ErrInvalidInput)

	n, err := f.store.CountUsers(ctx, "carol")
	require.NoError(t, err)
	assert.Zero(t, n)

	// a row planted directly in the store still cannot be entered with blanks
	hasher, err := user.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hashed, err := hasher.Hash("   ")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateUser(ctx, &user.User{Username: "carol", Password: hashed, Role: "user"}))

	got, err := f.svc.Authenticate(ctx, "carol", "   ")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.audit.logins)
}

func TestLookup(t *testing.T) {
	f := newFixture(t, "svc_lookup", sanitize.ModeBlacklist)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
	require.NoError(t, err)

	u, err := f.svc.Lookup(ctx, " admin ")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, "admin", u.Role)
	assert.Empty(t, u.Password)

	_, err = f.svc.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = f.svc.Lookup(ctx, ";--")
	assert.ErrorIs(t, err, user.ErrNotFound)

	require.NoError(t, f.store.Close())
	_, err = f.svc.Lookup(ctx, "admin")
	assert.ErrorIs(t, err, user.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, user.ErrNotFound))
}

func TestCreateUser_SanitizesUsername(t *testing.T) {
	f := newFixture(t, "svc_sanitize", sanitize.ModeBlacklist)
	ctx := context.Background()

	u, err := f.svc.CreateUser(ctx, "  bob;  ", "pw", "user")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

	got, err := f.svc.Authenticate(ctx, "bob", "pw")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCheckRole(t *testing.T) {
	f := newFixture(t, "svc_roles", sanitize.ModeAllowlist)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
	require.NoError(t, err)
	_, err = f.svc.CreateUser(ctx, "bob", "pw", "user")
	require.NoError(t, err)

	assert.True(t, f.svc.CheckRole(ctx, "admin", "admin"))
	assert.False(t, f.svc.CheckRole(ctx, "admin", "Admin"))
	assert.False(t, f.svc.CheckRole(ctx, "admin", "user"))
	assert.False(t, f.svc.CheckRole(ctx, "bob", "admin"))
	assert.True(t, f.svc.CheckRole(ctx, "bob", "user"))
	assert.False(t, f.svc.CheckRole(ctx, "ghost", "admin"))
	assert.False(t, f.svc.CheckRole(ctx, "", "admin"))
	assert.False(t, f.svc.CheckRole(ctx, "admin", ""))
	assert.False(t, f.svc.CheckRole(ctx, "admin", "   "))

	_, err = f.svc.CreateUser(ctx, "norole", "pw", "   ")
	require.NoError(t, err)
	assert.False(t, f.svc.CheckRole(ctx, "norole", "   "))
	assert.False(t, f.svc.CheckRole(ctx, "norole", ""))
}

func TestCheckRole_StoreFailureIsFalse(t *testing.T) {
	f := newFixture(t, "svc_roles_closed", sanitize.ModeBlacklist)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "admin", "1234", "admin")
	require.NoError(t, err)
	require.NoError(t, f.store.Close())

	assert.False(t, f.svc.CheckRole(ctx, "admin", "admin"))

	_, err = f.svc.Authenticate(ctx, "admin", "1234")
	assert.ErrorIs(t, err, user.ErrStoreUnavailable)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t, "svc_bootstrap", sanitize.ModeBlacklist)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, "", ""))
	require.NoError(t, f.svc.EnsureAdmin(ctx, "root", "toor"))
	require.NoError(t, f.svc.EnsureAdmin(ctx, "root", "other"))

	assert.True(t, f.svc.CheckRole(ctx, "root", "admin"))
	got, err := f.svc.Authenticate(ctx, "root", "toor")
	require.NoError(t, err)
	require.NotNil(t, got)

	n, err := f.store.CountUsers(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type failingDB struct{ user.Database }

func (failingDB) InitSchema(context.Context) error { return errors.New("disk gone") }

func TestInitSchema_PropagatesError(t *testing.T) {
	hasher, err := user.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	svc := user.NewService(failingDB{}, sanitize.New(sanitize.ModeBlacklist), hasher, nil)
	assert.EqualError(t, svc.InitSchema(context.Background()), "disk gone")
}

func TestNewHasher_CostBounds(t *testing.T) {
	_, err := user.NewHasher(bcrypt.MinCost - 1)
	assert.Error(t, err)
	_, err = user.NewHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)

	h, err := user.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hashed, err := h.Hash("pw")
	require.NoError(t, err)

	ok, err := h.Verify(hashed, "pw")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hashed, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("not-a-hash", "pw")
	assert.Error(t, err)
}
