package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MaxFileSize = 5 << 20
	maxPrice    = 100000
)

var (
	errNotJSONFile  = errors.New("file must have a .json extension")
	errFileTooLarge = fmt.Errorf("file exceeds %d bytes", MaxFileSize)
	errEmptyFile    = errors.New("file is empty")
	errNotObject    = errors.New("file must contain a JSON object")
	errMissingNodes = errors.New(`workflow definition must contain a "nodes" array`)
)

// ValidateDefinition checks that data looks like an exported automation
// workflow: a JSON object carrying a "nodes" array.
func ValidateDefinition(name string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(name), ".json") {
		return errNotJSONFile
	}
	if len(data) == 0 {
		return errEmptyFile
	}
	if len(data) > MaxFileSize {
		return errFileTooLarge
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return errNotObject
	}

	raw, ok := doc["nodes"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return errMissingNodes
	}
	var nodes []json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return errMissingNodes
	}
	return nil
}

// ParsePrice accepts a non-negative amount with at most two decimals.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("price must be a number")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("price must not be negative")
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, errors.New("price must have at most two decimals")
	}
	if d.GreaterThan(decimal.NewFromInt(maxPrice)) {
		return decimal.Zero, fmt.Errorf("price must not exceed %d", maxPrice)
	}
	return d, nil
}

// objectKey is the storage key of a workflow file.
func objectKey(ownerID, workflowID, fileName string) string {
	return fmt.Sprintf("workflows/%s/%s/%s", ownerID, workflowID, filepath.Base(fileName))
}
