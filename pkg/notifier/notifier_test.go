package notifier_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/notifier"
)

func TestNotifier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notifier Suite")
}

type recordingNotifier struct {
	edgeEvents    []notifier.EdgeRiskChanged
	missionEvents []notifier.MissionStatusChanged
}

func (r *recordingNotifier) PublishEdgeRiskChanged(e notifier.EdgeRiskChanged) {
	r.edgeEvents = append(r.edgeEvents, e)
}

func (r *recordingNotifier) PublishMissionStatusChanged(e notifier.MissionStatusChanged) {
	r.missionEvents = append(r.missionEvents, e)
}

var _ = Describe("AsGraphListener", func() {
	It("forwards GraphStore change batches as EdgeRiskChanged events", func() {
		rec := &recordingNotifier{}
		listener := notifier.AsGraphListener(rec)

		changed := []graph.EdgeKey{{U: 1, V: 2, K: 0}}
		listener(changed)

		Expect(rec.edgeEvents).To(HaveLen(1))
		Expect(rec.edgeEvents[0].Edges).To(Equal(changed))
	})
})

var _ = Describe("NoopNotifier", func() {
	It("discards every event without panicking", func() {
		var n notifier.Notifier = notifier.NoopNotifier{}
		n.PublishEdgeRiskChanged(notifier.EdgeRiskChanged{})
		n.PublishMissionStatusChanged(notifier.MissionStatusChanged{})
	})
})
