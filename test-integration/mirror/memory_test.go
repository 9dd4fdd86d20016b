package integration

import (
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/test-integration/mirror/helpers"
)

var _ = Describe("Memory Mirror Integration", Label("memory"), func() {
	var (
		tempDir      string
		upstream     *helpers.FakeUpstream
		serverHelper *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("memory-test-")
		upstream = helpers.NewFakeUpstream("w1", "w2", "w3")

		configFile := helpers.WriteMemoryConfigYAML(tempDir, "1s")
		serverHelper = helpers.NewServerTestHelper(ctx, configFile, upstream)
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		if serverHelper != nil {
			Expect(serverHelper.StopServer()).To(Succeed())
		}
		cleanupTempDir(tempDir)
	})

	It("serves health and run history", func() {
		resp, err := serverHelper.GetHealth()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		_ = resp.Body.Close()

		report := serverHelper.WaitForRun("", 10*time.Second)
		Expect(report.Phase).To(Equal(status.SyncPhaseComplete))
		Expect(report.TenancyID).To(Equal(helpers.TenancyID))
		Expect(report.Scopes).To(HaveLen(1))
		Expect(report.Scopes[0].Kind).To(Equal(helpers.WidgetKind.Name))
		Expect(report.Scopes[0].Observed).To(Equal(3))
		Expect(report.Scopes[0].Upserted).To(Equal(3))
	})

	It("sweeps widgets that disappear upstream", func() {
		first := serverHelper.WaitForRun("", 10*time.Second)
		Expect(first.Phase).To(Equal(status.SyncPhaseComplete))

		upstream.SetIDs("w1")

		Eventually(func() int64 {
			latest, err := serverHelper.GetLatestRun()
			if err != nil || latest == nil || len(latest.Scopes) == 0 {
				return 0
			}
			return latest.Scopes[0].Deleted
		}, 10*time.Second, 100*time.Millisecond).Should(BeEquivalentTo(2))

		ids, err := serverHelper.GetMirroredIDs(helpers.WidgetKind.Name, helpers.Region)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"w1"}))
	})

	It("keeps the mirror when a listing fails", func() {
		first := serverHelper.WaitForRun("", 10*time.Second)
		Expect(first.Phase).To(Equal(status.SyncPhaseComplete))

		upstream.FailWith(errors.New("upstream unavailable"))
		failed := serverHelper.WaitForRun(first.RunID, 10*time.Second)
		Expect(failed.Phase).To(Equal(status.SyncPhaseFailed))
		Expect(failed.Scopes[0].Deleted).To(BeZero())
		Expect(failed.Scopes[0].Error).To(ContainSubstring("upstream unavailable"))

		upstream.FailWith(nil)
		recovered := serverHelper.WaitForRun(failed.RunID, 10*time.Second)
		Expect(recovered.Phase).To(Equal(status.SyncPhaseComplete))
		Expect(recovered.Scopes[0].Deleted).To(BeZero())
	})

	It("lists recorded runs newest first", func() {
		first := serverHelper.WaitForRun("", 10*time.Second)
		second := serverHelper.WaitForRun(first.RunID, 10*time.Second)

		runs, err := serverHelper.ListRuns(10)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs.Count).To(BeNumerically(">=", 2))
		Expect(runs.Runs[0].StartedAt).NotTo(BeTemporally("<", second.StartedAt))
		Expect(upstream.Fetches()).To(BeNumerically(">=", 2))
	})
})
