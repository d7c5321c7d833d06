package detector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/internal/utils"
	"github.com/vitebski/sqlagent/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultPorts is the well-known port table probed for each kind
var DefaultPorts = map[models.Kind][]int{
	models.MySQL:         {3306, 3307, 3308, 3309},
	models.PostgreSQL:    {5432, 5433, 5434},
	models.SQLite:        nil,
	models.MongoDB:       {27017, 27018, 27019},
	models.Redis:         {6379, 6380},
	models.Cassandra:     {9042, 9160},
	models.Elasticsearch: {9200, 9300},
	models.MSSQL:         {1433, 1434},
	models.Oracle:        {1521, 1522},
}

// detectionOrder fixes the order kinds are examined in
var detectionOrder = []models.Kind{
	models.MySQL, models.PostgreSQL, models.SQLite, models.MongoDB, models.Redis,
	models.Cassandra, models.Elasticsearch, models.MSSQL, models.Oracle,
}

// DriverNames maps connectable kinds to their database/sql driver names
var DriverNames = map[models.Kind]string{
	models.MySQL:      "mysql",
	models.PostgreSQL: "pgx",
	models.SQLite:     "sqlite3",
}

// clientBinaries lists command line clients for kinds without a linked driver
var clientBinaries = map[models.Kind][]string{
	models.MongoDB:       {"mongosh", "mongo"},
	models.Redis:         {"redis-cli"},
	models.Cassandra:     {"cqlsh"},
	models.Elasticsearch: {"elasticsearch"},
	models.MSSQL:         {"sqlcmd"},
	models.Oracle:        {"sqlplus"},
}

// DefaultProbeTimeout bounds each TCP probe
const DefaultProbeTimeout = 500 * time.Millisecond

// maxConcurrentProbes bounds how many ports are dialed at once
const maxConcurrentProbes = 8

// Detector reports which database kinds are reachable on the local host
type Detector struct {
	Ports           map[models.Kind][]int
	Host            string
	Timeout         time.Duration
	ClientAvailable func(kind models.Kind) bool
	Dial            func(ctx context.Context, network, address string) (net.Conn, error)
	Logger          *logrus.Logger
}

// NewDetector creates a detector probing the loopback interface
func NewDetector(logger *logrus.Logger) *Detector {
	timeout := time.Duration(utils.GetEnvInt("SQLAGENT_PROBE_TIMEOUT_MS", int(DefaultProbeTimeout/time.Millisecond))) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &Detector{
		Ports:           DefaultPorts,
		Host:            "127.0.0.1",
		Timeout:         timeout,
		ClientAvailable: DefaultClientAvailable,
		Logger:          logger,
	}
}

// DefaultClientAvailable reports whether a database/sql driver is registered
// for the kind, or a command line client is on the PATH for the rest
func DefaultClientAvailable(kind models.Kind) bool {
	if driver, ok := DriverNames[kind]; ok {
		for _, registered := range sql.Drivers() {
			if registered == driver {
				return true
			}
		}
		return false
	}
	for _, binary := range clientBinaries[kind] {
		if _, err := exec.LookPath(binary); err == nil {
			return true
		}
	}
	return false
}

type probe struct {
	kind models.Kind
	port int
	open bool
}

// Detect probes every kind in the port table and builds a capability report
func (d *Detector) Detect(ctx context.Context) models.CapabilityReport {
	var probes []*probe
	for _, kind := range detectionOrder {
		for _, port := range d.Ports[kind] {
			probes = append(probes, &probe{kind: kind, port: port})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for _, p := range probes {
		p := p
		g.Go(func() error {
			p.open = d.probePort(gctx, p.port)
			return nil
		})
	}
	// Probes report closed ports as results, never as errors
	_ = g.Wait()

	openPorts := make(map[models.Kind][]int)
	for _, p := range probes {
		if p.open {
			openPorts[p.kind] = append(openPorts[p.kind], p.port)
		}
	}

	report := make(models.CapabilityReport)
	for _, kind := range detectionOrder {
		client := d.ClientAvailable != nil && d.ClientAvailable(kind)
		ports := openPorts[kind]

		var status models.CapabilityStatus
		switch {
		case client && len(ports) > 0:
			status = models.FullyAvailable
		case client:
			status = models.ClientOnly
		case len(ports) > 0:
			status = models.PortsOnly
		default:
			continue
		}

		if ports == nil {
			ports = []int{}
		}
		report[kind] = models.KindCapability{ClientAvailable: client, PortsDetected: ports, Status: status}
		d.Logger.Debugf("Detected %s: status=%s ports=%v", kind, status, ports)
	}

	d.Logger.Infof("Capability detection found %d database system(s)", len(report))
	return report
}

func (d *Detector) probePort(ctx context.Context, port int) bool {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := d.Dial
	if dial == nil {
		dialer := &net.Dialer{}
		dial = dialer.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(d.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// DetectSystem runs Detect and attaches host environment information
func (d *Detector) DetectSystem(ctx context.Context) models.SystemReport {
	return models.SystemReport{
		Timestamp:   time.Now(),
		Environment: environmentInfo(),
		Databases:   d.Detect(ctx),
	}
}

func environmentInfo() models.EnvironmentInfo {
	hostname, _ := os.Hostname()
	info := models.EnvironmentInfo{
		System:       runtime.GOOS,
		Architecture: runtime.GOARCH,
		Hostname:     hostname,
		InDocker:     inDocker(),
	}
	if release, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		info.Release = strings.TrimSpace(string(release))
	}
	return info
}

func inDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	cgroup, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	return strings.Contains(string(cgroup), "docker")
}

// ReportFileName returns the file name a report is saved under
func ReportFileName(report models.SystemReport) string {
	return fmt.Sprintf("system_report_%s.json", report.Timestamp.Format("20060102_150405"))
}

// SaveReport writes the report as indented JSON into dir and returns the file path
func SaveReport(dir string, report models.SystemReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode system report: %w", err)
	}

	path := filepath.Join(dir, ReportFileName(report))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write system report: %w", err)
	}
	return path, nil
}
