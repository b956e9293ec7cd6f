// Package history persists the per-project deployment log and preferences in
// <project>/.agent-cloud/config.json.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

const (
	// DirName is the per-project state directory.
	DirName = ".agent-cloud"
	// FileName is the history document inside DirName.
	FileName = "config.json"
	// Version is written into new documents.
	Version = "1.0.0"
	// MaxDeployments bounds the log; the oldest records are dropped first.
	MaxDeployments = 50
)

// Record is one completed workflow run.
type Record struct {
	ID            string            `json:"id" yaml:"id"`
	Timestamp     string            `json:"timestamp" yaml:"timestamp"`
	Cloud         cloud.Cloud       `json:"cloud" yaml:"cloud"`
	ProjectPath   string            `json:"projectPath" yaml:"projectPath"`
	Success       bool              `json:"success" yaml:"success"`
	DeploymentURL string            `json:"deploymentUrl,omitempty" yaml:"deploymentUrl,omitempty"`
	Resources     map[string]string `json:"resources" yaml:"resources"`
	Cost          *float64          `json:"cost,omitempty" yaml:"cost,omitempty"`
	// Duration is wall-clock milliseconds.
	Duration *int64 `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// NewRecord is a Record before the store assigns its identity.
type NewRecord struct {
	Cloud         cloud.Cloud
	ProjectPath   string
	Success       bool
	DeploymentURL string
	Resources     map[string]string
	Cost          *float64
	Duration      *int64
}

type Preferences struct {
	LogLevel string                 `json:"logLevel,omitempty"`
	Region   map[cloud.Cloud]string `json:"region"`
}

// Document is the on-disk shape.
type Document struct {
	Version      string      `json:"version"`
	ProjectName  string      `json:"projectName,omitempty"`
	DefaultCloud cloud.Cloud `json:"defaultCloud,omitempty"`
	AutoApprove  bool        `json:"autoApprove,omitempty"`
	Deployments  []Record    `json:"deployments"`
	Preferences  Preferences `json:"preferences"`
}

func newDocument(projectName string) Document {
	return Document{
		Version:     Version,
		ProjectName: projectName,
		Deployments: []Record{},
		Preferences: Preferences{Region: map[cloud.Cloud]string{}},
	}
}

// Store is read once per process on first access and rewritten in full on every
// mutation. It is not safe for concurrent use.
type Store struct {
	dir    string
	path   string
	loaded bool
	doc    Document
	now    func() time.Time
	newID  func() string
}

// NewStore scopes a store to projectDir. Nothing is read until first use.
func NewStore(projectDir string) *Store {
	dir := filepath.Join(projectDir, DirName)
	return &Store{
		dir:   dir,
		path:  filepath.Join(dir, FileName),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Path returns the location of the history document.
func (s *Store) Path() string { return s.path }

// Dir returns the per-project state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) load() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.doc = newDocument(filepath.Base(filepath.Dir(s.dir)))

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}
	s.doc = normalize(doc)
}

func normalize(doc Document) Document {
	if doc.Version == "" {
		doc.Version = Version
	}
	if doc.Deployments == nil {
		doc.Deployments = []Record{}
	}
	if doc.Preferences.Region == nil {
		doc.Preferences.Region = map[cloud.Cloud]string{}
	}
	return doc
}

func (s *Store) save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// AddDeployment assigns an id and timestamp, appends the record and drops the oldest
// entries beyond MaxDeployments.
func (s *Store) AddDeployment(in NewRecord) (Record, error) {
	s.load()

	resources := in.Resources
	if resources == nil {
		resources = map[string]string{}
	}
	rec := Record{
		ID:            s.newID(),
		Timestamp:     s.now().UTC().Format(time.RFC3339),
		Cloud:         in.Cloud,
		ProjectPath:   in.ProjectPath,
		Success:       in.Success,
		DeploymentURL: in.DeploymentURL,
		Resources:     resources,
		Cost:          in.Cost,
		Duration:      in.Duration,
	}

	s.doc.Deployments = append(s.doc.Deployments, rec)
	if n := len(s.doc.Deployments); n > MaxDeployments {
		s.doc.Deployments = append([]Record(nil), s.doc.Deployments[n-MaxDeployments:]...)
	}
	return rec, s.save()
}

// Deployments returns every record, oldest first.
func (s *Store) Deployments() []Record {
	s.load()
	return append([]Record(nil), s.doc.Deployments...)
}

func (s *Store) DeploymentsByCloud(c cloud.Cloud) []Record {
	s.load()
	return lo.Filter(s.doc.Deployments, func(r Record, _ int) bool { return r.Cloud == c })
}

func (s *Store) Successful() []Record {
	s.load()
	return lo.Filter(s.doc.Deployments, func(r Record, _ int) bool { return r.Success })
}

func (s *Store) Failed() []Record {
	s.load()
	return lo.Filter(s.doc.Deployments, func(r Record, _ int) bool { return !r.Success })
}

// Last returns the most recently added record.
func (s *Store) Last() (Record, bool) {
	s.load()
	if len(s.doc.Deployments) == 0 {
		return Record{}, false
	}
	return s.doc.Deployments[len(s.doc.Deployments)-1], true
}

// Find looks a record up by id.
func (s *Store) Find(id string) (Record, bool) {
	s.load()
	return lo.Find(s.doc.Deployments, func(r Record) bool { return r.ID == id })
}

// Stats aggregates the log.
type Stats struct {
	Total           int                 `json:"total" yaml:"total"`
	Successful      int                 `json:"successful" yaml:"successful"`
	Failed          int                 `json:"failed" yaml:"failed"`
	ByCloud         map[cloud.Cloud]int `json:"byCloud" yaml:"byCloud"`
	TotalCost       float64             `json:"totalCost" yaml:"totalCost"`
	AverageDuration float64             `json:"averageDuration" yaml:"averageDuration"`
}

func (s *Store) Stats() Stats {
	s.load()
	deployments := s.doc.Deployments

	byCloud := make(map[cloud.Cloud]int, len(cloud.All))
	for _, c := range cloud.All {
		byCloud[c] = lo.CountBy(deployments, func(r Record) bool { return r.Cloud == c })
	}

	costed := lo.Filter(deployments, func(r Record, _ int) bool { return r.Cost != nil && *r.Cost != 0 })
	timed := lo.Filter(deployments, func(r Record, _ int) bool { return r.Duration != nil && *r.Duration != 0 })

	var avg float64
	if len(timed) > 0 {
		total := lo.SumBy(timed, func(r Record) int64 { return *r.Duration })
		avg = float64(total) / float64(len(timed))
	}

	successful := lo.CountBy(deployments, func(r Record) bool { return r.Success })
	return Stats{
		Total:           len(deployments),
		Successful:      successful,
		Failed:          len(deployments) - successful,
		ByCloud:         byCloud,
		TotalCost:       lo.SumBy(costed, func(r Record) float64 { return *r.Cost }),
		AverageDuration: avg,
	}
}

// ClearHistory removes every record but keeps preferences.
func (s *Store) ClearHistory() error {
	s.load()
	s.doc.Deployments = []Record{}
	return s.save()
}

func (s *Store) DefaultCloud() (cloud.Cloud, bool) {
	s.load()
	return s.doc.DefaultCloud, s.doc.DefaultCloud != ""
}

func (s *Store) SetDefaultCloud(c cloud.Cloud) error {
	if !c.Valid() {
		return fmt.Errorf("invalid cloud %q", c)
	}
	s.load()
	s.doc.DefaultCloud = c
	return s.save()
}

func (s *Store) AutoApprove() bool {
	s.load()
	return s.doc.AutoApprove
}

func (s *Store) SetAutoApprove(v bool) error {
	s.load()
	s.doc.AutoApprove = v
	return s.save()
}

func (s *Store) PreferredRegion(c cloud.Cloud) string {
	s.load()
	return s.doc.Preferences.Region[c]
}

func (s *Store) SetPreferredRegion(c cloud.Cloud, region string) error {
	if !c.Valid() {
		return fmt.Errorf("invalid cloud %q", c)
	}
	s.load()
	s.doc.Preferences.Region[c] = region
	return s.save()
}

func (s *Store) LogLevel() string {
	s.load()
	return s.doc.Preferences.LogLevel
}

func (s *Store) SetLogLevel(level string) error {
	s.load()
	s.doc.Preferences.LogLevel = level
	return s.save()
}

// Document returns a copy of the whole document.
func (s *Store) Document() Document {
	s.load()
	doc := s.doc
	doc.Deployments = append([]Record(nil), s.doc.Deployments...)
	doc.Preferences.Region = lo.Assign(s.doc.Preferences.Region)
	return doc
}

// Export renders the document as indented JSON.
func (s *Store) Export() ([]byte, error) {
	s.load()
	return json.MarshalIndent(s.doc, "", "  ")
}

// Import replaces the document with data after checking it.
func (s *Store) Import(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid history document: %w", err)
	}
	if doc.Version == "" {
		return errors.New("invalid history document: missing version")
	}
	for _, r := range doc.Deployments {
		if !r.Cloud.Valid() {
			return fmt.Errorf("invalid history document: record %s has cloud %q", r.ID, r.Cloud)
		}
	}
	if doc.DefaultCloud != "" && !doc.DefaultCloud.Valid() {
		return fmt.Errorf("invalid history document: default cloud %q", doc.DefaultCloud)
	}
	doc = normalize(doc)
	if n := len(doc.Deployments); n > MaxDeployments {
		doc.Deployments = doc.Deployments[n-MaxDeployments:]
	}

	s.loaded = true
	s.doc = doc
	return s.save()
}
