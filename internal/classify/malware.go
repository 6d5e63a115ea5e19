package classify

import (
	"context"
	"fmt"
	"os"

	clamd "github.com/dutchcoders/go-clamd"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/errorsx"
)

// ClamScanner streams files to a clamd daemon.
type ClamScanner struct {
	clamav *clamd.Clamd
	log    *zap.Logger
}

// NewClamScanner connects to clamd at the given address, e.g.
// "tcp://localhost:3310".
func NewClamScanner(address string, log *zap.Logger) *ClamScanner {
	return &ClamScanner{
		clamav: clamd.NewClamd(address),
		log:    log.With(zap.String("module", "malware")),
	}
}

// Scan streams the file to clamd. Returns ErrMalwareDetected on a match.
func (s *ClamScanner) Scan(_ context.Context, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file for scan: %w", err)
	}
	defer fh.Close()

	abort := make(chan bool)
	defer close(abort)

	response, err := s.clamav.ScanStream(fh, abort)
	if err != nil {
		return fmt.Errorf("clamav scan error: %w", err)
	}

	for res := range response {
		if res.Status == clamd.RES_FOUND {
			s.log.Warn("malware detected in asset",
				zap.String("path", path),
				zap.String("signature", res.Description))
			return fmt.Errorf("%w: %s", errorsx.ErrMalwareDetected, res.Description)
		}
	}
	return nil
}
