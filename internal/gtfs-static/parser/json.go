package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// RouteFile is a hand-maintained route timetable: one route, its stops in
// order and the time each run leaves the first stop.
type RouteFile struct {
	Name       string           `json:"-"`
	Region     string           `json:"region"`
	Route      string           `json:"ruta"`
	Stops      []string         `json:"paradas"`
	Departures []RouteDeparture `json:"salidas"`
}

type RouteDeparture struct {
	Time string `json:"hora"`
}

// ReadRouteFiles decodes every *.json file in dir, in file name order.
func (p *Parser) ReadRouteFiles(dir string) ([]RouteFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading JSON route directory: %w", err)
	}

	var files []RouteFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rf, err := readRouteFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, rf)
	}

	p.logger.Info("JSON route files read", "path", dir, "files", len(files))
	return files, nil
}

func readRouteFile(path string) (RouteFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RouteFile{}, errors.Wrap(err, "reading route file")
	}

	var rf RouteFile
	if err := json.Unmarshal(b, &rf); err != nil {
		return RouteFile{}, errors.Wrapf(err, "decoding %s", filepath.Base(path))
	}
	rf.Name = filepath.Base(path)
	rf.Region = strings.TrimSpace(rf.Region)
	rf.Route = strings.TrimSpace(rf.Route)
	return rf, nil
}
