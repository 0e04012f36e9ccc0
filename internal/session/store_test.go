package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/session"
)

var _ = Describe("Store Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.DebugLevel)

	var (
		baseDir string
		store   *session.Store
	)

	newRecord := func(sessionID string, status domain.SessionStatus) *domain.StatusRecord {
		return &domain.StatusRecord{
			SessionID:   sessionID,
			Status:      status,
			CreateTime:  time.Now(),
			SessionPath: store.SessionPath(sessionID),
		}
	}

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()

		var err error
		store, err = session.NewStore(baseDir, &atom)
		Expect(err).To(BeNil())
	})

	It("Will create an isolated working directory per session", func() {
		path, err := store.Create("session-1")
		Expect(err).To(BeNil())
		Expect(path).To(Equal(filepath.Join(baseDir, "session-1")))

		info, err := os.Stat(path)
		Expect(err).To(BeNil())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("Will fail with ErrSessionExists on an id collision", func() {
		_, err := store.Create("session-1")
		Expect(err).To(BeNil())

		_, err = store.Create("session-1")
		Expect(err).ToNot(BeNil())
		Expect(errors.Is(err, domain.ErrSessionExists)).To(BeTrue())
	})

	It("Will round-trip a status record and mirror it to metadata.json", func() {
		_, err := store.Create("session-1")
		Expect(err).To(BeNil())

		record := newRecord("session-1", domain.SessionTraining)
		record.Progress = 30
		Expect(store.PutStatus("session-1", record)).To(BeNil())

		got, err := store.GetStatus("session-1")
		Expect(err).To(BeNil())
		Expect(got.Status).To(Equal(domain.SessionTraining))
		Expect(got.Progress).To(Equal(30))

		_, err = os.Stat(filepath.Join(baseDir, "session-1", session.MetadataFileName))
		Expect(err).To(BeNil())
	})

	It("Will hand out clones, never the cached record itself", func() {
		_, err := store.Create("session-1")
		Expect(err).To(BeNil())
		Expect(store.PutStatus("session-1", newRecord("session-1", domain.SessionValidating))).To(BeNil())

		got, err := store.GetStatus("session-1")
		Expect(err).To(BeNil())
		got.Status = domain.SessionFailed

		again, err := store.GetStatus("session-1")
		Expect(err).To(BeNil())
		Expect(again.Status).To(Equal(domain.SessionValidating))
	})

	It("Will return ErrSessionNotFound for an unknown id", func() {
		_, err := store.GetStatus("no-such-session")
		Expect(err).ToNot(BeNil())
		Expect(errors.Is(err, domain.ErrSessionNotFound)).To(BeTrue())
	})

	It("Will fall back to the on-disk record after a restart", func() {
		_, err := store.Create("session-1")
		Expect(err).To(BeNil())
		record := newRecord("session-1", domain.SessionCompleted)
		record.Progress = 100
		Expect(store.PutStatus("session-1", record)).To(BeNil())

		// A second store over the same directory simulates a restart with a
		// cold cache.
		restarted, err := session.NewStore(baseDir, &atom)
		Expect(err).To(BeNil())

		got, err := restarted.GetStatus("session-1")
		Expect(err).To(BeNil())
		Expect(got.Status).To(Equal(domain.SessionCompleted))
		Expect(got.Progress).To(Equal(100))
	})

	It("Will list only non-terminal sessions, in submission order", func() {
		for _, id := range []string{"s1", "s2", "s3"} {
			_, err := store.Create(id)
			Expect(err).To(BeNil())
		}
		Expect(store.PutStatus("s1", newRecord("s1", domain.SessionTraining))).To(BeNil())
		Expect(store.PutStatus("s2", newRecord("s2", domain.SessionCompleted))).To(BeNil())
		Expect(store.PutStatus("s3", newRecord("s3", domain.SessionValidating))).To(BeNil())

		active := store.ActiveSessions()
		Expect(active).To(HaveLen(2))
		Expect(active[0].SessionID).To(Equal("s1"))
		Expect(active[1].SessionID).To(Equal("s3"))
	})

	It("Will surface non-terminal on-disk records as interrupted after a restart", func() {
		for _, id := range []string{"running", "finished"} {
			_, err := store.Create(id)
			Expect(err).To(BeNil())
		}
		Expect(store.PutStatus("running", newRecord("running", domain.SessionTraining))).To(BeNil())
		Expect(store.PutStatus("finished", newRecord("finished", domain.SessionCompleted))).To(BeNil())

		restarted, err := session.NewStore(baseDir, &atom)
		Expect(err).To(BeNil())

		interrupted, err := restarted.InterruptedSessions()
		Expect(err).To(BeNil())
		Expect(interrupted).To(HaveLen(1))
		Expect(interrupted[0].SessionID).To(Equal("running"))

		// The scan repopulates the cache: the interrupted session is listed
		// as active again.
		active := restarted.ActiveSessions()
		Expect(active).To(HaveLen(1))
		Expect(active[0].SessionID).To(Equal("running"))
	})

	It("Will skip unreadable records during the interrupted scan", func() {
		_, err := store.Create("broken-session")
		Expect(err).To(BeNil())

		interrupted, err := store.InterruptedSessions()
		Expect(err).To(BeNil())
		Expect(interrupted).To(BeEmpty())
	})

	Context("Cleanup", func() {
		It("Will remove sessions older than the retention window", func() {
			_, err := store.Create("old-session")
			Expect(err).To(BeNil())
			record := newRecord("old-session", domain.SessionCompleted)
			record.CreateTime = time.Now().Add(-10 * 24 * time.Hour)
			Expect(store.PutStatus("old-session", record)).To(BeNil())

			removed, err := store.Cleanup(7 * 24 * time.Hour)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(1))

			_, err = os.Stat(store.SessionPath("old-session"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("Will keep sessions inside the retention window", func() {
			_, err := store.Create("fresh-session")
			Expect(err).To(BeNil())
			Expect(store.PutStatus("fresh-session", newRecord("fresh-session", domain.SessionCompleted))).To(BeNil())

			removed, err := store.Cleanup(7 * 24 * time.Hour)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(0))
		})

		It("Will leave sessions with unreadable records untouched", func() {
			_, err := store.Create("broken-session")
			Expect(err).To(BeNil())
			// No metadata.json was ever written; the directory's age cannot
			// be determined from its record.

			removed, err := store.Cleanup(time.Nanosecond)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(0))

			_, err = os.Stat(store.SessionPath("broken-session"))
			Expect(err).To(BeNil())
		})
	})
})
