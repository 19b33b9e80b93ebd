package manager

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsThermal reads temperatures from the kernel hwmon tree. It is the
// default ThermalSource injected into laptop drivers.
type SysfsThermal struct {
	root string
}

// NewSysfsThermal uses /sys/class/hwmon unless overridden for tests.
func NewSysfsThermal() *SysfsThermal {
	return &SysfsThermal{root: "/sys/class/hwmon"}
}

// ReadTemperatures returns sensor label → degrees Celsius for every
// temp*_input under the hwmon tree.
func (t *SysfsThermal) ReadTemperatures() (map[string]float64, error) {
	out := make(map[string]float64)

	hwmons, err := os.ReadDir(t.root)
	if err != nil {
		return nil, err
	}
	for _, hw := range hwmons {
		dir := filepath.Join(t.root, hw.Name())
		chip := readTrimmed(filepath.Join(dir, "name"))

		inputs, _ := filepath.Glob(filepath.Join(dir, "temp*_input"))
		for _, inputPath := range inputs {
			raw := readTrimmed(inputPath)
			milli, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}

			base := strings.TrimSuffix(filepath.Base(inputPath), "_input")
			label := readTrimmed(filepath.Join(dir, base+"_label"))
			if label == "" {
				label = base
			}
			if chip != "" {
				label = chip + "/" + label
			}
			out[label] = float64(milli) / 1000.0
		}
	}
	return out, nil
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
