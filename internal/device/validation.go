package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxRoomLength = 100
	espIDPattern  = `^[a-z0-9]+(?:[-_][a-z0-9]+)*$`
	maxESPIDLen   = 64

	// Size limits for the config map to prevent DoS via memory exhaustion.
	maxConfigKeys     = 50
	maxStringValueLen = 1024
	maxNestingDepth   = 10

	// activationTokenBytes is the entropy of a one-time activation token.
	activationTokenBytes = 16

	// deviceTokenBytes is the entropy of a permanent device token (256-bit).
	deviceTokenBytes = 32
)

var espIDRegex = regexp.MustCompile(espIDPattern)

// Pre-computed validation sets for O(1) lookups.
var (
	validTypes    map[DeviceType]struct{}
	validStatuses map[Status]struct{}
)

func init() {
	validTypes = make(map[DeviceType]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}

	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalid
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateESPID(d.ESPID); err != nil {
		return err
	}

	if err := ValidateType(d.Type); err != nil {
		return err
	}

	if d.Status != "" {
		if err := ValidateStatus(d.Status); err != nil {
			return err
		}
	}

	if len(d.Room) > maxRoomLength {
		return fmt.Errorf("%w: room exceeds %d characters", ErrInvalid, maxRoomLength)
	}

	if len(d.Config) > maxConfigKeys {
		return fmt.Errorf("%w: config exceeds max keys (%d)", ErrInvalid, maxConfigKeys)
	}
	if err := validateMapSize(d.Config, "config", 0); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateESPID checks if an ESP hardware identifier is valid.
// ESP IDs appear in MQTT topic paths, so the character set is restricted
// to lowercase alphanumerics with hyphen/underscore separators.
func ValidateESPID(espID string) error {
	if espID == "" {
		return fmt.Errorf("%w: esp id cannot be empty", ErrInvalidESPID)
	}
	if len(espID) > maxESPIDLen {
		return fmt.Errorf("%w: esp id exceeds %d characters", ErrInvalidESPID, maxESPIDLen)
	}
	if !espIDRegex.MatchString(espID) {
		return fmt.Errorf("%w: %q", ErrInvalidESPID, espID)
	}
	return nil
}

// ValidateType checks if a device type value is recognised.
func ValidateType(t DeviceType) error {
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// ValidateStatus checks if a status value is recognised.
func ValidateStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// validateMapSize recursively validates config map values with depth tracking.
func validateMapSize(m map[string]any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalid, fieldName)
	}

	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalid, fieldName)
		}
		if err := validateValueSize(v, fieldName, depth); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalid, fieldName)
		}
	case map[string]any:
		if len(val) > maxConfigKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalid, fieldName)
		}
		return validateMapSize(val, fieldName, depth+1)
	case []any:
		if len(val) > maxConfigKeys {
			return fmt.Errorf("%w: %s array too large", ErrInvalid, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	// Primitives (bool, int, float64, etc.) are safe
	return nil
}

// GenerateID creates a new unique device ID.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateActivationToken creates a one-time provisioning token.
// Short enough to fit comfortably in a QR code.
func GenerateActivationToken() (string, error) {
	b := make([]byte, activationTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating activation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateDeviceToken creates a permanent device credential (256-bit).
// The raw token is delivered to firmware exactly once; only its hash is stored.
func GenerateDeviceToken() (string, error) {
	b := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating device token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
