package account

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/galaxygate-project/galaxygate/internal/events"
)

// LoginResult is the outcome of an authentication attempt. The values
// are wire codes sent to the client in the login reply.
type LoginResult int

const (
	LoginSuccess            LoginResult = 0
	LoginInvalidCredentials LoginResult = 1
	LoginAccountDisabled    LoginResult = 2
	LoginServerFull         LoginResult = 3
	LoginMaintenance        LoginResult = 4
)

// loginResultStrings maps LoginResult values to their lowercase JSON string representation.
var loginResultStrings = map[LoginResult]string{
	LoginSuccess:            "success",
	LoginInvalidCredentials: "invalid_credentials",
	LoginAccountDisabled:    "account_disabled",
	LoginServerFull:         "server_full",
	LoginMaintenance:        "maintenance",
}

// String returns the string representation of LoginResult.
func (r LoginResult) String() string {
	if s, ok := loginResultStrings[r]; ok {
		return s
	}
	return "invalid_credentials"
}

// MarshalJSON serializes LoginResult as a JSON string (e.g. "success").
func (r LoginResult) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Manager authenticates usernames against the store and applies the
// account policy: optional auto-creation of unknown accounts and the
// development test accounts.
type Manager struct {
	store         *Store
	autoCreate    bool
	maxCharacters int
	hashCost      int
	bus           *events.EventBus
	logger        zerolog.Logger
}

// NewManager creates an account manager. The event bus may be nil.
func NewManager(store *Store, autoCreate bool, maxCharacters int, bus *events.EventBus) *Manager {
	return &Manager{
		store:         store,
		autoCreate:    autoCreate,
		maxCharacters: maxCharacters,
		hashCost:      bcrypt.DefaultCost,
		bus:           bus,
		logger:        log.With().Str("component", "account").Logger(),
	}
}

// Authenticate checks a username/password pair. Unknown usernames are
// auto-created when the store is configured for it; otherwise they fail
// exactly like a bad password so probes cannot enumerate accounts.
func (m *Manager) Authenticate(username, password string) (LoginResult, *Account) {
	if username == "" || password == "" {
		return LoginInvalidCredentials, nil
	}

	acc, err := m.store.GetAccount(username)
	if errors.Is(err, ErrAccountNotFound) {
		return m.tryAutoCreate(username, password)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("username", username).Msg("account lookup failed")
		return LoginInvalidCredentials, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		m.logger.Debug().Str("username", username).Msg("password mismatch")
		return LoginInvalidCredentials, nil
	}

	if !acc.Enabled {
		m.logger.Info().Str("username", username).Msg("login refused, account disabled")
		return LoginAccountDisabled, acc
	}

	if err := m.store.RecordLogin(acc.ID, time.Now()); err != nil {
		m.logger.Warn().Err(err).Str("username", username).Msg("failed to record login")
	}
	acc.LoginCount++

	return LoginSuccess, acc
}

// tryAutoCreate registers an unknown username on the fly when the
// gateway runs with auto-create enabled.
func (m *Manager) tryAutoCreate(username, password string) (LoginResult, *Account) {
	if !m.autoCreate {
		m.logger.Info().Str("username", username).Msg("login failed, account does not exist")
		return LoginInvalidCredentials, nil
	}

	acc, err := m.CreateAccount(username, password)
	if err != nil {
		m.logger.Error().Err(err).Str("username", username).Msg("auto-create failed")
		return LoginInvalidCredentials, nil
	}

	m.logger.Info().
		Str("username", username).
		Int64("account_id", acc.ID).
		Msg("auto-created account")

	return LoginSuccess, acc
}

// CreateAccount hashes the password and inserts a new account.
func (m *Manager) CreateAccount(username, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.hashCost)
	if err != nil {
		return nil, err
	}

	acc, err := m.store.CreateAccount(username, string(hash), m.maxCharacters)
	if err != nil {
		return nil, err
	}

	m.emit(events.EventAccountCreated, events.AccountCreatedPayload{
		AccountID: uint32(acc.ID),
		Username:  acc.Username,
	})
	return acc, nil
}

// EnsureTestAccounts creates the development accounts when they are
// missing. Intended for auto-create deployments only.
func (m *Manager) EnsureTestAccounts() error {
	for _, name := range []string{"test", "admin", "dev"} {
		_, err := m.store.GetAccount(name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		if _, err := m.CreateAccount(name, name); err != nil {
			return err
		}
		m.logger.Info().Str("username", name).Msg("created test account")
	}
	return nil
}

// GetAccount exposes store lookup for the API layer.
func (m *Manager) GetAccount(username string) (*Account, error) {
	return m.store.GetAccount(username)
}

// ListAccounts exposes the full account list for the API and CLI.
func (m *Manager) ListAccounts() ([]Account, error) {
	return m.store.ListAccounts()
}

// SetEnabled toggles an account.
func (m *Manager) SetEnabled(username string, enabled bool) error {
	return m.store.SetEnabled(username, enabled)
}

// Count returns the number of registered accounts.
func (m *Manager) Count() (int, error) {
	return m.store.Count()
}

// MaxCharacters returns the per-account character slot limit applied to
// new accounts and advertised in the cluster list.
func (m *Manager) MaxCharacters() int {
	return m.maxCharacters
}

func (m *Manager) emit(t events.EventType, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "account",
		Payload: payload,
	})
}
