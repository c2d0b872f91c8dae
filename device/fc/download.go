package fc

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// progressStep is how often Download logs its position.
const progressStep = 64 * 1024

// DownloadResult describes a completed dataflash download.
type DownloadResult struct {
	Bytes  int64
	Digest [blake2b.Size256]byte
}

// DigestHex returns the BLAKE2b-256 digest as lowercase hex.
func (r DownloadResult) DigestHex() string {
	return hex.EncodeToString(r.Digest[:])
}

// Download streams the session's remaining contents into w and closes the
// session. The digest covers exactly the bytes written.
func Download(ctx context.Context, s *FlashSession, w io.Writer) (DownloadResult, error) {
	defer s.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return DownloadResult{}, err
	}
	dst := io.MultiWriter(w, h)

	var res DownloadResult
	nextLog := int64(progressStep)
	for s.Size() > 0 {
		chunk, err := s.ReadChunk(ctx)
		if err != nil {
			return res, fmt.Errorf("dataflash read at %d: %w", res.Bytes, err)
		}
		if len(chunk) == 0 {
			break
		}
		n, err := dst.Write(chunk)
		res.Bytes += int64(n)
		if err != nil {
			return res, err
		}
		if res.Bytes >= nextLog {
			s.log.Info("download progress", "bytes", res.Bytes, "total", s.Size())
			nextLog += progressStep
		}
	}

	copy(res.Digest[:], h.Sum(nil))
	s.log.Info("download complete", "bytes", res.Bytes, "blake2b", res.DigestHex())
	return res, nil
}
