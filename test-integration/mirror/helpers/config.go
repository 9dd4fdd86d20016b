package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onsi/gomega"
)

// DatabaseSettings describes the postgres instance used by a config
type DatabaseSettings struct {
	Host     string
	Port     int
	User     string
	Database string
}

// WriteMemoryConfigYAML writes a memory driver configuration that syncs every interval
func WriteMemoryConfigYAML(dir, interval string) string {
	content := fmt.Sprintf(`tenancyId: %s
regions: [%s]
sync:
  interval: %s
  kinds:
    - name: instance
mirror:
  driver: memory
history:
  statusDir: %s
`, TenancyID, Region, interval, filepath.Join(dir, "status"))
	return writeConfig(dir, content)
}

// WritePostgresConfigYAML writes a postgres driver configuration with database history
func WritePostgresConfigYAML(dir, interval string, db DatabaseSettings) string {
	content := fmt.Sprintf(`tenancyId: %s
regions: [%s]
sync:
  interval: %s
  kinds:
    - name: instance
mirror:
  driver: postgres
  tablePrefix: it_
database:
  host: %s
  port: %d
  user: %s
  database: %s
  sslMode: disable
history:
  storage: database
`, TenancyID, Region, interval, db.Host, db.Port, db.User, db.Database)
	return writeConfig(dir, content)
}

func writeConfig(dir, content string) string {
	configPath := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(configPath, []byte(content), 0600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return configPath
}
