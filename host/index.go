package host

import (
	"net/url"
	"sync"
	"time"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/service"
)

// DocumentIndexService is the host's in-memory document index. Durable
// services read their authoritative state through GET queries against
// it and publish updates with POST.
type DocumentIndexService struct {
	*service.Stateless

	mu   sync.RWMutex
	docs map[string]*service.Document
}

// NewDocumentIndexService creates an empty index.
func NewDocumentIndexService() *DocumentIndexService {
	s := &DocumentIndexService{
		Stateless: service.NewStateless("weft:DocumentIndex", service.OptionConcurrentGetHandling),
		docs:      make(map[string]*service.Document),
	}
	s.Bind(s)
	return s
}

// HandleGet resolves a documentSelfLink query to the stored document.
func (s *DocumentIndexService) HandleGet(op *operation.Operation) {
	link, err := queryDocumentLink(op.Path())
	if err != nil {
		op.Fail(operation.NewServiceError(operation.StatusBadRequest, "bad index query: %v", err))
		return
	}
	s.mu.RLock()
	doc, ok := s.docs[link]
	s.mu.RUnlock()
	if !ok {
		op.Fail(operation.NotFound(link))
		return
	}
	out := *doc
	op.SetBody(&out).Complete()
}

// HandlePost upserts the document carried in the body, advancing its
// version and update time.
func (s *DocumentIndexService) HandlePost(op *operation.Operation) {
	doc, ok := op.Body().(*service.Document)
	if !ok || doc == nil || doc.SelfLink == "" {
		op.Fail(operation.NewServiceError(operation.StatusBadRequest,
			"index update requires a document with a self-link"))
		return
	}
	stored := *doc
	stored.UpdateTimeMicros = time.Now().UnixMicro()

	s.mu.Lock()
	if prev, exists := s.docs[doc.SelfLink]; exists {
		stored.Version = prev.Version + 1
	}
	s.docs[doc.SelfLink] = &stored
	s.mu.Unlock()

	result := stored
	op.SetBody(&result).Complete()
}

// queryDocumentLink extracts the documentSelfLink parameter from an
// index query path.
func queryDocumentLink(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	link := u.Query().Get("documentSelfLink")
	if link == "" {
		return "", operation.NewServiceError(operation.StatusBadRequest, "documentSelfLink is required")
	}
	return link, nil
}
