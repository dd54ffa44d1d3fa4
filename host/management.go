package host

import (
	"sort"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/service"
)

// ManagementLink is where the management service listens.
const ManagementLink = "/core/management"

// ManagementState is the GET response of the management service.
type ManagementState struct {
	ServiceLinks []string `json:"serviceLinks"`
	ServiceCount int      `json:"serviceCount"`
}

// ManagementService reports the host's registry contents. It is
// instrumented, so request counts show up on /metrics.
type ManagementService struct {
	*service.Stateless

	host *Host
}

// NewManagementService creates the management endpoint for h.
func NewManagementService(h *Host) *ManagementService {
	s := &ManagementService{
		Stateless: service.NewStateless("weft:Management",
			service.OptionInstrumentation, service.OptionConcurrentGetHandling),
		host: h,
	}
	s.Bind(s)
	return s
}

func (s *ManagementService) HandleStart(op *operation.Operation) {
	s.SetAvailable(true)
	op.Complete()
}

func (s *ManagementService) HandleGet(op *operation.Operation) {
	s.AdjustStat("getCount", 1)
	links := s.host.ServiceLinks()
	sort.Strings(links)
	op.SetBody(&ManagementState{
		ServiceLinks: links,
		ServiceCount: len(links),
	}).Complete()
}
