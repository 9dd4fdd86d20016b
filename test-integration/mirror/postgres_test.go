package integration

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/test-integration/mirror/helpers"
)

var _ = Describe("Postgres Mirror Integration", Label("postgres"), Serial, Ordered, func() {
	var (
		tempDir      string
		pg           *helpers.PostgresHelper
		upstream     *helpers.FakeUpstream
		serverHelper *helpers.ServerTestHelper
	)

	const table = "it_widget_inventory"

	BeforeAll(func() {
		pg = helpers.StartPostgres(ctx)
		Expect(os.Setenv(config.DatabasePasswordEnv, pg.Password)).To(Succeed())

		tempDir = createTempDir("postgres-test-")
		upstream = helpers.NewFakeUpstream("w1", "w2", "w3")

		configFile := helpers.WritePostgresConfigYAML(tempDir, "1s", pg.Settings)
		serverHelper = helpers.NewServerTestHelper(ctx, configFile, upstream)
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(30 * time.Second)
	})

	AfterAll(func() {
		if serverHelper != nil {
			Expect(serverHelper.StopServer()).To(Succeed())
		}
		_ = os.Unsetenv(config.DatabasePasswordEnv)
		if pg != nil {
			pg.Stop()
		}
		cleanupTempDir(tempDir)
	})

	It("mirrors every listed widget", func() {
		report := serverHelper.WaitForRun("", 30*time.Second)
		Expect(report.Phase).To(Equal(status.SyncPhaseComplete))

		ids, err := pg.MirroredIDs(ctx, table)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"w1", "w2", "w3"}))
	})

	It("deletes rows missing from the latest listing", func() {
		upstream.SetIDs("w2", "w4")

		Eventually(func() ([]string, error) {
			return pg.MirroredIDs(ctx, table)
		}, 30*time.Second, 200*time.Millisecond).Should(Equal([]string{"w2", "w4"}))
	})

	It("records run history in the database", func() {
		runs, err := serverHelper.ListRuns(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs.Count).To(BeNumerically(">=", 2))
		for _, run := range runs.Runs {
			Expect(run.TenancyID).To(Equal(helpers.TenancyID))
		}
	})
})
