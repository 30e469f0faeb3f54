package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestManager(t *testing.T, autoCreate bool) *Manager {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := NewManager(s, autoCreate, 2, nil)
	m.hashCost = bcrypt.MinCost // keep the test suite fast
	return m
}

func TestAuthenticateAutoCreatesUnknownAccount(t *testing.T) {
	m := newTestManager(t, true)

	result, acc := m.Authenticate("newplayer", "secret")
	assert.Equal(t, LoginSuccess, result)
	require.NotNil(t, acc)
	assert.Equal(t, "newplayer", acc.Username)

	count, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The second login hits the stored account and bumps the counter.
	result, acc = m.Authenticate("newplayer", "secret")
	assert.Equal(t, LoginSuccess, result)
	require.NotNil(t, acc)
	assert.Equal(t, 1, acc.LoginCount)
}

func TestAuthenticateUnknownWithoutAutoCreate(t *testing.T) {
	m := newTestManager(t, false)

	result, acc := m.Authenticate("stranger", "whatever")
	assert.Equal(t, LoginInvalidCredentials, result)
	assert.Nil(t, acc)

	count, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.CreateAccount("grace", "right")
	require.NoError(t, err)

	result, acc := m.Authenticate("grace", "wrong")
	assert.Equal(t, LoginInvalidCredentials, result)
	assert.Nil(t, acc)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.CreateAccount("heidi", "pw")
	require.NoError(t, err)
	require.NoError(t, m.SetEnabled("heidi", false))

	result, _ := m.Authenticate("heidi", "pw")
	assert.Equal(t, LoginAccountDisabled, result)

	// Disabled accounts do not accrue logins.
	acc, err := m.GetAccount("heidi")
	require.NoError(t, err)
	assert.Zero(t, acc.LoginCount)
}

func TestAuthenticateEmptyCredentials(t *testing.T) {
	m := newTestManager(t, true)

	result, acc := m.Authenticate("", "pw")
	assert.Equal(t, LoginInvalidCredentials, result)
	assert.Nil(t, acc)

	result, acc = m.Authenticate("user", "")
	assert.Equal(t, LoginInvalidCredentials, result)
	assert.Nil(t, acc)

	count, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, count, "empty credentials must never auto-create")
}

func TestEnsureTestAccountsIdempotent(t *testing.T) {
	m := newTestManager(t, true)

	require.NoError(t, m.EnsureTestAccounts())
	require.NoError(t, m.EnsureTestAccounts())

	count, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, name := range []string{"test", "admin", "dev"} {
		result, acc := m.Authenticate(name, name)
		assert.Equal(t, LoginSuccess, result, "test account %s must authenticate", name)
		require.NotNil(t, acc)
	}
}

func TestPasswordsAreHashed(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.CreateAccount("ivan", "plaintext")
	require.NoError(t, err)

	acc, err := m.GetAccount("ivan")
	require.NoError(t, err)
	assert.NotEqual(t, "plaintext", acc.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("plaintext")))
}

func TestLoginResultStrings(t *testing.T) {
	assert.Equal(t, "success", LoginSuccess.String())
	assert.Equal(t, "invalid_credentials", LoginInvalidCredentials.String())
	assert.Equal(t, "account_disabled", LoginAccountDisabled.String())
	assert.Equal(t, "server_full", LoginServerFull.String())
	assert.Equal(t, "maintenance", LoginMaintenance.String())

	data, err := LoginSuccess.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"success"`, string(data))
}
