package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that accepts "1MB"-style strings in YAML.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	n, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// ParseSize parses size strings like "1MB", "512KB" or "2048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	if upper == "" {
		return 0, fmt.Errorf("size is empty")
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1024},
		{"MB", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size %q must be positive", size)
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size %q too large", size)
	}
	return result, nil
}
