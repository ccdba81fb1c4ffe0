package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// defaultConfigPath is the default filename for persisted configuration.
const defaultConfigPath = "pilab.json"

// User represents an account that can log in to the control endpoints.
// Passwords are stored as bcrypt hashes.  When no users are configured the
// control endpoints are open, matching the original bench pages.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Admin        bool   `json:"admin"`
}

// Config is the top-level structure serialized to pilab.json.  It contains
// all persisted supervisor state.  Agent definitions live in the separate
// read-only manifest; this file holds only what an operator may change at
// runtime.
type Config struct {
	HTTPPort int    `json:"http_port"`           // port to listen on (default 8080)
	CertFile string `json:"cert_file,omitempty"` // optional PEM certificate; TLS when set
	KeyFile  string `json:"key_file,omitempty"`  // optional PEM key

	DataDir string `json:"data_dir"` // dynamic data documents (single writer each)
	RunDir  string `json:"run_dir"`  // PID files, supervisor lock, reset marker
	LogDir  string `json:"log_dir"`  // per-agent log sinks

	// AgentUser, when set, is the identity hardware agents are spawned
	// under via sudo.  Empty means spawn as the current user.
	AgentUser string `json:"agent_user,omitempty"`

	LEDPin   int    `json:"led_pin"`   // GPIO pin for the direct LED toggle
	EventLog string `json:"event_log"` // operator action audit log

	ManifestFile string `json:"manifest_file,omitempty"`
	Users        []User `json:"users,omitempty"`
}

// ConfigManager wraps the loaded configuration and a mutex for concurrent
// access.  When modifying configuration through the HTTP API, always call
// Save() to persist changes.
type ConfigManager struct {
	mu     sync.RWMutex
	path   string
	cfg    Config
	loaded bool
}

// LoadConfig builds a ConfigManager from the given path.
func LoadConfig(path string) (*ConfigManager, error) {
	cm := &ConfigManager{}
	if err := cm.Load(path); err != nil {
		return nil, err
	}
	return cm, nil
}

// Load reads configuration from disk.  If the file does not exist, a
// default open-access configuration is created and persisted.  An empty
// path selects the default filename.
func (cm *ConfigManager) Load(path string) error {
	cm.mu.Lock()
	if path == "" {
		path = defaultConfigPath
	}
	cm.path = path
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cm.cfg = Config{
				HTTPPort: 8080,
				DataDir:  "dynamic",
				RunDir:   "run",
				LogDir:   "log",
				LEDPin:   18,
				EventLog: "log/events.log",
			}
			cm.loaded = true
			// Release the write lock before saving to avoid deadlock:
			// Save acquires a read lock on the same mutex.
			cm.mu.Unlock()
			return cm.Save()
		}
		cm.mu.Unlock()
		return fmt.Errorf("unable to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cm.cfg); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", path, err)
	}
	cm.loaded = true
	cm.mu.Unlock()
	return nil
}

// Path returns the file the configuration was loaded from.
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.path
}

// Save writes the configuration to disk.  The write is atomic so that a
// concurrent reader never observes a torn file.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	bytes, err := json.MarshalIndent(cm.cfg, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Callers must treat the
// returned Config as immutable.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg
}

// Update applies a user supplied function to modify the configuration.  It
// holds the write lock, calls the supplied function with a pointer to the
// internal config, and then persists the change.  The updater must not
// capture the pointer beyond the scope of the function.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	if err := fn(&cm.cfg); err != nil {
		cm.mu.Unlock()
		return err
	}
	// Release the lock before saving to avoid deadlock: Save acquires a
	// read lock on the same mutex.
	cm.mu.Unlock()
	return cm.Save()
}

// FindUser returns a user and its index by username.  If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, u := range cm.cfg.Users {
		if u.Username == username {
			return u, i
		}
	}
	return User{}, -1
}

// Authenticate checks whether the provided username and password are valid.
// It returns the user object if authentication succeeds.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
	user, _ := cm.FindUser(username)
	if user.Username == "" {
		return User{}, errors.New("invalid credentials")
	}
	if err := checkPasswordHash(password, user.PasswordHash); err != nil {
		return User{}, errors.New("invalid credentials")
	}
	return user, nil
}

// AuthRequired reports whether control endpoints need a session.  Auth is
// enforced only once at least one user account exists.
func (cm *ConfigManager) AuthRequired() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.cfg.Users) > 0
}
