package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

// planTable serves the read-only plan table. The body never changes while the
// process runs, so it is encoded once and tagged with a checksum ETag.
type planTable struct {
	body []byte
	etag string
}

func newPlanTable(registry *plans.Registry) (*planTable, error) {
	body, err := json.Marshal(map[string]any{"plans": registry.Plans()})
	if err != nil {
		return nil, err
	}

	h := crc64nvme.New()
	_, _ = h.Write(body)

	return &planTable{
		body: body,
		etag: fmt.Sprintf(`"%016x"`, h.Sum64()),
	}, nil
}

func (p *planTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", p.etag)
	w.Header().Set("Cache-Control", "public, max-age=300")

	if etagMatches(r.Header.Get("If-None-Match"), p.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.body)
}

func etagMatches(header, etag string) bool {
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
