package bus_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/pkg/bus"
)

func TestBus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MessageBus Suite")
}

var _ = Describe("Bus", func() {
	var b *bus.Bus

	BeforeEach(func() {
		b = bus.New()
		b.Register("router", 4)
		b.Register("hazard", 4)
	})

	Describe("Send/Recv", func() {
		It("delivers a message exactly once in FIFO order", func() {
			convo := bus.NewConversationID()
			for i := 0; i < 3; i++ {
				env := bus.Envelope{
					Performative:   bus.PerformativeInform,
					Sender:         "hazard",
					Receiver:       "router",
					ConversationID: convo,
					Content:        i,
					Timestamp:      time.Now(),
				}
				Expect(b.Send(env)).To(Equal(bus.SendOK))
			}

			for i := 0; i < 3; i++ {
				env, ok, err := b.Recv("router", false, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(env.Content).To(Equal(i))
			}

			_, ok, _ := b.Recv("router", false, 0)
			Expect(ok).To(BeFalse())
		})

		It("returns queue_not_found for an unregistered receiver", func() {
			result := b.Send(bus.Envelope{Receiver: "unknown"})
			Expect(result).To(Equal(bus.SendQueueNotFound))
		})

		It("returns queue_full once capacity is exceeded", func() {
			b.Register("small", 1)
			first := bus.Envelope{Receiver: "small", Sender: "a"}
			second := bus.Envelope{Receiver: "small", Sender: "b"}
			Expect(b.Send(first)).To(Equal(bus.SendOK))
			Expect(b.Send(second)).To(Equal(bus.SendQueueFull))
		})
	})

	Describe("Broadcast", func() {
		It("delivers to every queue except the sender when excluded", func() {
			env := bus.Envelope{Performative: bus.PerformativeInform, Sender: "hazard", Receiver: bus.Broadcast}
			failed := b.Broadcast(env, true)
			Expect(failed).To(BeEmpty())

			_, ok, _ := b.Recv("hazard", false, 0)
			Expect(ok).To(BeFalse(), "sender should be excluded from its own broadcast")

			_, ok, _ = b.Recv("router", false, 0)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Blocking Recv", func() {
		It("wakes up when a message arrives before the timeout", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				b.Send(bus.Envelope{Receiver: "router", Sender: "hazard", Content: "late"})
			}()

			env, ok, err := b.Recv("router", true, 500*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(env.Content).To(Equal("late"))
		})

		It("times out when nothing arrives", func() {
			_, ok, err := b.Recv("router", true, 30*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("QueueSize and Clear", func() {
		It("reports depth and clears pending messages", func() {
			b.Send(bus.Envelope{Receiver: "router", Sender: "hazard"})
			b.Send(bus.Envelope{Receiver: "router", Sender: "hazard"})
			Expect(b.QueueSize("router")).To(Equal(2))

			b.Clear("router")
			Expect(b.QueueSize("router")).To(Equal(0))
		})
	})
})
