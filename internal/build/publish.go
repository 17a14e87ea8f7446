package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mattjoyce/docpush/internal/lock"
	"github.com/mattjoyce/docpush/internal/log"
)

// ErrOutputNotDirectory is returned when the publish target is missing or
// is not a directory. Nothing is modified in that case.
var ErrOutputNotDirectory = errors.New("output path is not an existing directory")

// PublishMode records how the output directory was replaced.
type PublishMode string

const (
	// PublishSwap: the new tree was staged beside the output and swapped in.
	PublishSwap PublishMode = "swap"
	// PublishInPlace: the output was emptied and refilled.
	PublishInPlace PublishMode = "in_place"
)

// PublishReport describes a finished publish.
type PublishReport struct {
	Mode   PublishMode
	Digest string
}

// Publisher replaces the contents of an output directory with a built site.
type Publisher struct {
	locks        *lock.PathLocks
	allowInPlace bool
	logger       *slog.Logger

	swap func(staging, output string) error
}

// NewPublisher returns a Publisher. A nil locks disables serialization of
// publishes to the same output.
func NewPublisher(locks *lock.PathLocks, allowInPlace bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = log.WithComponent("publish")
	}
	return &Publisher{
		locks:        locks,
		allowInPlace: allowInPlace,
		logger:       logger,
		swap:         exchangeDirs,
	}
}

// CheckOutput verifies that path exists and is a directory.
func (p *Publisher) CheckOutput(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOutputNotDirectory, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrOutputNotDirectory, path)
	}
	return info, nil
}

// Publish makes outputPath contain exactly the tree at siteDir. Readers of
// outputPath never see a partial tree unless the swap is impossible and the
// in-place fallback is used.
func (p *Publisher) Publish(ctx context.Context, siteDir, outputPath string) (PublishReport, error) {
	siteInfo, err := os.Stat(siteDir)
	if err != nil {
		return PublishReport{}, fmt.Errorf("site directory: %w", err)
	}
	if !siteInfo.IsDir() {
		return PublishReport{}, fmt.Errorf("site directory %s is not a directory", siteDir)
	}

	if p.locks != nil {
		release, err := p.locks.Acquire(ctx, outputPath)
		if err != nil {
			return PublishReport{}, fmt.Errorf("lock output %s: %w", outputPath, err)
		}
		defer release()
	}

	outInfo, err := p.CheckOutput(outputPath)
	if err != nil {
		return PublishReport{}, err
	}

	// Swap the real directory, not a symlink pointing at it.
	target, err := filepath.EvalSymlinks(outputPath)
	if err != nil {
		return PublishReport{}, fmt.Errorf("resolve output %s: %w", outputPath, err)
	}

	mode, err := p.publishSwap(ctx, siteDir, target, outInfo.Mode().Perm())
	var unavailable *swapUnavailableError
	if errors.As(err, &unavailable) {
		if !p.allowInPlace {
			return PublishReport{}, fmt.Errorf("swap into %s not possible and in-place publish disabled: %w", outputPath, unavailable.err)
		}
		p.logger.Warn("swap not possible, publishing in place", "output", outputPath, "reason", unavailable.err)
		mode, err = p.publishInPlace(ctx, siteDir, target)
	}
	if err != nil {
		return PublishReport{}, err
	}

	digest, err := TreeDigest(target)
	if err != nil {
		return PublishReport{}, err
	}
	p.logger.Info("site published", "output", outputPath, "mode", mode, "digest", digest)
	return PublishReport{Mode: mode, Digest: digest}, nil
}

// swapUnavailableError marks failures that mean the stage-then-swap route
// cannot work for this output, as opposed to a broken site.
type swapUnavailableError struct{ err error }

func (e *swapUnavailableError) Error() string { return e.err.Error() }
func (e *swapUnavailableError) Unwrap() error { return e.err }

func (p *Publisher) publishSwap(ctx context.Context, siteDir, outputPath string, perm os.FileMode) (PublishMode, error) {
	clean := filepath.Clean(outputPath)
	staging := filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".docpush-"+uuid.NewString()[:8])

	if err := os.Mkdir(staging, perm); err != nil {
		return "", &swapUnavailableError{fmt.Errorf("create staging directory: %w", err)}
	}
	defer func() {
		_ = os.RemoveAll(staging)
		_ = os.RemoveAll(staging + ".old")
	}()

	// Mkdir is subject to umask.
	if err := os.Chmod(staging, perm); err != nil {
		return "", &swapUnavailableError{fmt.Errorf("chmod staging directory: %w", err)}
	}
	if err := copyTree(ctx, siteDir, staging); err != nil {
		return "", fmt.Errorf("stage site: %w", err)
	}
	if err := p.swap(staging, clean); err != nil {
		return "", &swapUnavailableError{fmt.Errorf("swap %s: %w", clean, err)}
	}
	// staging now holds the previous contents and is removed by the defer.
	return PublishSwap, nil
}

func (p *Publisher) publishInPlace(ctx context.Context, siteDir, outputPath string) (PublishMode, error) {
	if err := removeContents(outputPath); err != nil {
		return "", fmt.Errorf("clear output: %w", err)
	}
	if err := copyTree(ctx, siteDir, outputPath); err != nil {
		return "", fmt.Errorf("copy site into output: %w", err)
	}
	return PublishInPlace, nil
}
