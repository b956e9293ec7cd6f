package deploy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ProjectProfile is what a static look at the project directory reveals.
type ProjectProfile struct {
	Dir            string   `json:"dir"`
	Language       string   `json:"language"`       // node, python, go, rust, java, unknown
	Framework      string   `json:"framework"`      // express, fastapi, gin, nextjs, ...
	PackageManager string   `json:"packageManager"` // npm, pnpm, yarn, pip, poetry, go, cargo, ...
	HasDocker      bool     `json:"hasDocker"`
	HasCompose     bool     `json:"hasCompose"`
	DeployHints    []string `json:"deployHints"`
	Ports          []int    `json:"ports"`
	EnvVars        []string `json:"envVars"`
	EntryPoint     string   `json:"entryPoint"`
	BuildCmd       string   `json:"buildCmd"`
	StartCmd       string   `json:"startCmd"`
	Databases      []string `json:"databases"`
	// StaticDir is set when the project is a plain static site; "." means the project root.
	StaticDir string `json:"staticDir,omitempty"`
	Summary   string `json:"summary"`
	FileTree  string `json:"fileTree"`
}

// Scan inspects dir without executing anything.
func Scan(dir string) (*ProjectProfile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to scan project: %s is not a directory", dir)
	}

	p := &ProjectProfile{Dir: dir}
	p.HasDocker = fileExists(dir, "Dockerfile") || fileExists(dir, "dockerfile")
	p.HasCompose = lo.SomeBy(composeFiles, func(f string) bool { return fileExists(dir, f) })

	detectLanguage(dir, p)
	detectPackageManager(dir, p)
	detectDeployHints(dir, p)
	detectStatic(dir, p)
	detectPorts(dir, p)
	detectEnvVars(dir, p)
	detectDatabases(dir, p)
	detectCommands(dir, p)

	p.FileTree = buildFileTree(dir, "", 0)
	p.Summary = buildSummary(p)
	return p, nil
}

// ProjectType maps the profile onto the analyzer's project types.
func (p *ProjectProfile) ProjectType() string {
	switch {
	case p.StaticDir != "":
		return ProjectStatic
	case p.Language == "unknown" && p.HasDocker:
		return ProjectContainer
	}
	switch p.Framework {
	case "nextjs", "nuxt", "django", "rails":
		return ProjectWeb
	}
	return ProjectAPI
}

// Analysis projects the profile onto a ProjectAnalysis. It is what `analyze --local`
// prints and what the demo analyzer answers with.
func (p *ProjectProfile) Analysis() ProjectAnalysis {
	a := ProjectAnalysis{
		ProjectType: p.ProjectType(),
		Runtime:     p.Language,
		Framework:   p.Framework,
		Databases:   append([]string{}, p.Databases...),
		HasDocker:   p.HasDocker,
	}
	if a.ProjectType != ProjectStatic && len(p.Ports) > 0 {
		a.Port = p.Ports[0]
	}
	return a
}

var composeFiles = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

func detectLanguage(dir string, p *ProjectProfile) {
	switch {
	case fileExists(dir, "go.mod"):
		p.Language = "go"
		p.Framework = firstMatch(dir, "go.mod", [][2]string{
			{"gin-gonic", "gin"}, {"gofiber", "fiber"}, {"labstack/echo", "echo"}, {"go-chi", "chi"},
		})
		p.EntryPoint = findGoEntryPoint(dir)

	case fileExists(dir, "requirements.txt") || fileExists(dir, "pyproject.toml") || fileExists(dir, "setup.py"):
		p.Language = "python"
		depFile := "requirements.txt"
		if !fileExists(dir, depFile) {
			depFile = "pyproject.toml"
		}
		p.Framework = firstMatch(dir, depFile, [][2]string{
			{"fastapi", "fastapi"}, {"flask", "flask"}, {"django", "django"}, {"streamlit", "streamlit"},
		})
		p.EntryPoint = firstExisting(dir, []string{"main.py", "app.py", "server.py", "run.py"}, "main.py")

	case fileExists(dir, "package.json"):
		p.Language = "node"
		deps := packageDeps(dir)
		for _, fw := range []struct{ dep, name string }{
			{"next", "nextjs"}, {"nuxt", "nuxt"}, {"@nestjs/core", "nestjs"}, {"express", "express"},
			{"fastify", "fastify"}, {"vite", "vite"}, {"react", "react"}, {"vue", "vue"},
		} {
			if _, ok := deps[fw.dep]; ok {
				p.Framework = fw.name
				break
			}
		}
		p.EntryPoint = firstExisting(dir, nodeEntryPoints, "")

	case fileExists(dir, "Cargo.toml"):
		p.Language = "rust"
		p.Framework = firstMatch(dir, "Cargo.toml", [][2]string{{"actix", "actix"}, {"axum", "axum"}, {"rocket", "rocket"}})
		p.EntryPoint = "src/main.rs"

	case fileExists(dir, "pom.xml") || fileExists(dir, "build.gradle") || fileExists(dir, "build.gradle.kts"):
		p.Language = "java"
		if contentContains(dir, "pom.xml", "spring-boot") || contentContains(dir, "build.gradle", "spring-boot") {
			p.Framework = "spring-boot"
		}

	case fileExists(dir, "Gemfile"):
		p.Language = "ruby"
		if contentContains(dir, "Gemfile", "rails") {
			p.Framework = "rails"
		}

	default:
		p.Language = "unknown"
	}
}

var nodeEntryPoints = []string{"server.js", "app.js", "index.js", "src/server.js", "src/index.js", "src/server.ts", "src/index.ts", "src/main.ts"}

func detectPackageManager(dir string, p *ProjectProfile) {
	switch p.Language {
	case "node":
		switch {
		case fileExists(dir, "pnpm-lock.yaml"):
			p.PackageManager = "pnpm"
		case fileExists(dir, "yarn.lock"):
			p.PackageManager = "yarn"
		case fileExists(dir, "bun.lockb") || fileExists(dir, "bun.lock"):
			p.PackageManager = "bun"
		default:
			p.PackageManager = "npm"
		}
	case "python":
		switch {
		case fileExists(dir, "Pipfile"):
			p.PackageManager = "pipenv"
		case fileExists(dir, "poetry.lock") || contentContains(dir, "pyproject.toml", "[tool.poetry]"):
			p.PackageManager = "poetry"
		case fileExists(dir, "uv.lock"):
			p.PackageManager = "uv"
		default:
			p.PackageManager = "pip"
		}
	case "go":
		p.PackageManager = "go"
	case "rust":
		p.PackageManager = "cargo"
	case "java":
		if fileExists(dir, "pom.xml") {
			p.PackageManager = "maven"
		} else {
			p.PackageManager = "gradle"
		}
	case "ruby":
		p.PackageManager = "bundler"
	}
}

func detectDeployHints(dir string, p *ProjectProfile) {
	hints := [][2]string{
		{"fly.toml", "fly.io"},
		{"render.yaml", "render"},
		{"vercel.json", "vercel"},
		{"netlify.toml", "netlify"},
		{"Procfile", "heroku"},
		{"app.yaml", "gcp-app-engine"},
		{"serverless.yml", "serverless"},
		{"cdk.json", "aws-cdk"},
		{"terraform/main.tf", "terraform"},
		{"main.tf", "terraform"},
		{"azure.yaml", "azure-developer-cli"},
		{"firebase.json", "firebase"},
	}
	for _, h := range hints {
		if fileExists(dir, h[0]) && !lo.Contains(p.DeployHints, h[1]) {
			p.DeployHints = append(p.DeployHints, h[1])
		}
	}
}

var staticDirs = []string{"dist", "build", "public", "out", "_site"}

// detectStatic marks projects whose only deliverable is HTML: an index.html at the root or
// in a build directory, with no server entrypoint.
func detectStatic(dir string, p *ProjectProfile) {
	if hasServerEntrypoint(dir, p) {
		return
	}
	if fileExists(dir, "index.html") {
		p.StaticDir = "."
		return
	}
	for _, d := range staticDirs {
		if fileExists(dir, filepath.Join(d, "index.html")) {
			p.StaticDir = d
			return
		}
	}
	// A frontend-only node project that builds into dist/ is still a static site.
	if p.Language == "node" && lo.Contains([]string{"vite", "react", "vue"}, p.Framework) && !p.HasDocker {
		p.StaticDir = "dist"
	}
}

func hasServerEntrypoint(dir string, p *ProjectProfile) bool {
	switch p.Language {
	case "go", "python", "rust", "java", "ruby":
		return true
	case "node":
		if lo.Contains([]string{"express", "fastify", "nestjs", "nextjs", "nuxt"}, p.Framework) {
			return true
		}
		return p.EntryPoint != "" && p.EntryPoint != "src/main.ts"
	}
	return p.HasDocker
}

var (
	exposeRe   = regexp.MustCompile(`(?i)^\s*EXPOSE\s+(\d+)`)
	flagPortRe = regexp.MustCompile(`(?:--port[= ]|(?:^|\s)-p\s+)(\d{4,5})`)
	composeRe  = regexp.MustCompile(`["']?(\d{4,5}):(\d{4,5})(?:/(?:tcp|udp))?["']?`)
	sourceRe   = regexp.MustCompile(`(?i)(?:\.listen\(\s*(\d{4,5})|\bport\b[^=\n]*[=:]\s*["']?(\d{4,5})|addr\s*[:=]\s*["'][^"']*:(\d{4,5}))`)
	envPortRe  = regexp.MustCompile(`^\s*PORT\s*=\s*(\d{4,5})`)
)

func detectPorts(dir string, p *ProjectProfile) {
	add := func(s string) {
		if port := parsePort(s); port > 0 && !lo.Contains(p.Ports, port) {
			p.Ports = append(p.Ports, port)
		}
	}

	if p.HasDocker {
		scanFile(filepath.Join(dir, "Dockerfile"), func(line string) {
			if m := exposeRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		})
	}
	for _, cf := range composeFiles {
		scanFile(filepath.Join(dir, cf), func(line string) {
			if m := composeRe.FindStringSubmatch(line); m != nil {
				add(m[2])
			}
		})
	}
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		for _, m := range flagPortRe.FindAllStringSubmatch(string(data), -1) {
			add(m[1])
		}
	}
	for _, f := range []string{".env.example", ".env.sample", ".env"} {
		scanFile(filepath.Join(dir, f), func(line string) {
			if m := envPortRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		})
	}

	sources := append([]string{"main.go", "cmd/server/main.go", "app.py", "main.py", "server.py", "src/main.rs"}, nodeEntryPoints...)
	for _, f := range sources {
		scanFile(filepath.Join(dir, f), func(line string) {
			for _, m := range sourceRe.FindAllStringSubmatch(line, -1) {
				for _, g := range m[1:] {
					add(g)
				}
			}
		})
	}

	if len(p.Ports) > 0 || p.StaticDir != "" {
		return
	}
	switch p.Framework {
	case "nextjs", "nuxt", "express", "fastify", "nestjs", "rails":
		p.Ports = []int{3000}
	case "fastapi", "flask", "django", "streamlit":
		p.Ports = []int{8000}
	case "gin", "echo", "fiber", "chi", "spring-boot", "actix", "axum", "rocket":
		p.Ports = []int{8080}
	}
}

func detectEnvVars(dir string, p *ProjectProfile) {
	for _, f := range []string{".env.example", ".env.sample", ".env.template"} {
		scanFile(filepath.Join(dir, f), func(line string) {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				return
			}
			key := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(line, "=", 2)[0], "export "))
			if key != "" && !lo.Contains(p.EnvVars, key) {
				p.EnvVars = append(p.EnvVars, key)
			}
		})
	}
}

var databasePatterns = []struct {
	name     string
	patterns []string
}{
	{"postgresql", []string{"psycopg", "postgres", "\"pg\"", "jackc/pgx", "lib/pq", "asyncpg"}},
	{"mysql", []string{"mysql", "pymysql", "mysqlclient"}},
	{"mongodb", []string{"mongo", "mongoose"}},
	{"redis", []string{"redis"}},
	{"sqlite", []string{"sqlite"}},
}

func detectDatabases(dir string, p *ProjectProfile) {
	var content strings.Builder
	for _, f := range []string{"package.json", "requirements.txt", "pyproject.toml", "go.mod", "Cargo.toml", "pom.xml", "Gemfile"} {
		if data, err := os.ReadFile(filepath.Join(dir, f)); err == nil {
			content.WriteString(strings.ToLower(string(data)))
			content.WriteByte('\n')
		}
	}
	all := content.String()
	for _, db := range databasePatterns {
		if lo.SomeBy(db.patterns, func(pat string) bool { return strings.Contains(all, pat) }) {
			p.Databases = append(p.Databases, db.name)
		}
	}
}

func detectCommands(dir string, p *ProjectProfile) {
	switch p.Language {
	case "go":
		p.BuildCmd = "go build -o app ."
		p.StartCmd = "./app"
	case "python":
		p.BuildCmd = "pip install -r requirements.txt"
		switch p.Framework {
		case "fastapi":
			p.StartCmd = "uvicorn main:app --host 0.0.0.0 --port 8000"
		case "flask":
			p.StartCmd = "gunicorn app:app -b 0.0.0.0:8000"
		case "django":
			p.StartCmd = "gunicorn config.wsgi -b 0.0.0.0:8000"
		default:
			p.StartCmd = "python " + p.EntryPoint
		}
		switch p.PackageManager {
		case "pipenv":
			p.BuildCmd = "pipenv install"
		case "poetry":
			p.BuildCmd = "poetry install"
		case "uv":
			p.BuildCmd = "uv sync"
		}
	case "node":
		pm := p.PackageManager
		scripts := packageScripts(dir)
		if _, ok := scripts["build"]; ok {
			p.BuildCmd = pm + " run build"
		}
		if _, ok := scripts["start"]; ok {
			p.StartCmd = pm + " start"
		} else if p.EntryPoint != "" {
			p.StartCmd = "node " + p.EntryPoint
		}
	case "rust":
		p.BuildCmd = "cargo build --release"
		p.StartCmd = "./target/release/app"
	case "java":
		if p.PackageManager == "maven" {
			p.BuildCmd = "mvn package -DskipTests"
			p.StartCmd = "java -jar target/*.jar"
		} else {
			p.BuildCmd = "gradle build"
			p.StartCmd = "java -jar build/libs/*.jar"
		}
	}

	if p.HasDocker {
		p.BuildCmd = "docker build -t app ."
		if len(p.Ports) > 0 {
			p.StartCmd = fmt.Sprintf("docker run -p %d:%d app", p.Ports[0], p.Ports[0])
		} else {
			p.StartCmd = "docker run app"
		}
	}
}

var titleCaser = cases.Title(language.English)

func buildSummary(p *ProjectProfile) string {
	var parts []string
	if p.Language != "" && p.Language != "unknown" {
		lang := titleCaser.String(p.Language)
		if p.Framework != "" {
			parts = append(parts, fmt.Sprintf("%s/%s application", lang, p.Framework))
		} else {
			parts = append(parts, lang+" application")
		}
	}
	if p.StaticDir != "" {
		parts = append(parts, "static site in "+p.StaticDir)
	}
	if p.PackageManager != "" {
		parts = append(parts, "pkg: "+p.PackageManager)
	}
	if p.HasDocker {
		parts = append(parts, "has Dockerfile")
	}
	if p.HasCompose {
		parts = append(parts, "has docker-compose")
	}
	if len(p.Ports) > 0 {
		ports := lo.Map(p.Ports, func(port int, _ int) string { return strconv.Itoa(port) })
		parts = append(parts, "exposes port(s) "+strings.Join(ports, ", "))
	}
	if len(p.Databases) > 0 {
		parts = append(parts, "uses "+strings.Join(p.Databases, ", "))
	}
	if len(p.EnvVars) > 0 {
		parts = append(parts, fmt.Sprintf("%d env vars required", len(p.EnvVars)))
	}
	if len(p.DeployHints) > 0 {
		parts = append(parts, "deploy hints: "+strings.Join(p.DeployHints, ", "))
	}
	if len(parts) == 0 {
		return "no recognizable project files"
	}
	return strings.Join(parts, " • ")
}

// PromptContext renders the profile for the analyzer prompt.
func (p *ProjectProfile) PromptContext() string {
	var b strings.Builder
	b.WriteString("Summary: " + p.Summary + "\n")
	fmt.Fprintf(&b, "Suggested projectType: %s\n", p.ProjectType())
	if p.EntryPoint != "" {
		fmt.Fprintf(&b, "Entry point: %s\n", p.EntryPoint)
	}
	if p.BuildCmd != "" {
		fmt.Fprintf(&b, "Build: %s\n", p.BuildCmd)
	}
	if p.StartCmd != "" {
		fmt.Fprintf(&b, "Start: %s\n", p.StartCmd)
	}
	if len(p.EnvVars) > 0 {
		fmt.Fprintf(&b, "Env vars: %s\n", strings.Join(p.EnvVars, ", "))
	}
	if p.FileTree != "" {
		b.WriteString("Files:\n" + p.FileTree)
	}
	return b.String()
}

const maxTreeEntries = 200

func buildFileTree(dir, prefix string, depth int) string {
	var b strings.Builder
	count := 0
	walkTree(&b, &count, dir, prefix, depth)
	return b.String()
}

func walkTree(b *strings.Builder, count *int, dir, prefix string, depth int) {
	if depth > 2 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if *count >= maxTreeEntries {
			return
		}
		name := e.Name()
		switch name {
		case ".git", "node_modules", ".next", "__pycache__", "target", ".cache", "vendor", ".venv", ".agent-cloud":
			continue
		}
		*count++
		if e.IsDir() {
			b.WriteString(prefix + name + "/\n")
			walkTree(b, count, filepath.Join(dir, name), prefix+"  ", depth+1)
			continue
		}
		b.WriteString(prefix + name + "\n")
	}
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func contentContains(dir, name, substr string) bool {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), strings.ToLower(substr))
}

// firstMatch returns the name of the first {needle, name} pair found in file.
func firstMatch(dir, file string, pairs [][2]string) string {
	for _, pair := range pairs {
		if contentContains(dir, file, pair[0]) {
			return pair[1]
		}
	}
	return ""
}

func firstExisting(dir string, names []string, fallback string) string {
	if name, ok := lo.Find(names, func(n string) bool { return fileExists(dir, n) }); ok {
		return name
	}
	return fallback
}

func scanFile(path string, fn func(string)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fn(s.Text())
	}
}

func parsePort(s string) int {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1024 || port > 65535 {
		return 0
	}
	return port
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSON(dir string) packageJSON {
	var pkg packageJSON
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return pkg
	}
	_ = json.Unmarshal(data, &pkg)
	return pkg
}

func packageDeps(dir string) map[string]string {
	pkg := readPackageJSON(dir)
	return lo.Assign(pkg.DevDependencies, pkg.Dependencies)
}

func packageScripts(dir string) map[string]string {
	return readPackageJSON(dir).Scripts
}

func findGoEntryPoint(dir string) string {
	if fileExists(dir, "main.go") {
		return "main.go"
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "cmd"))
	for _, e := range entries {
		if e.IsDir() && fileExists(filepath.Join(dir, "cmd", e.Name()), "main.go") {
			return filepath.Join("cmd", e.Name(), "main.go")
		}
	}
	return "main.go"
}
