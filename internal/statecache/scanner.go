package statecache

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Default directories scanned relative to the project root
var (
	DefaultRouteDirs     = []string{"app/api", "src/app/api", "pages/api", "src/pages/api"}
	DefaultComponentDirs = []string{"components", "src/components", "app", "src/app"}
)

var (
	exportedMethodRE = regexp.MustCompile(`export\s+(?:async\s+)?(?:function|const|let)\s+(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\b`)
	requestMethodRE  = regexp.MustCompile(`req\.method\s*===?\s*['"](GET|POST|PUT|PATCH|DELETE)['"]`)
	defaultExportRE  = regexp.MustCompile(`export\s+default\b`)

	fromTableRE = regexp.MustCompile(`\.from\(\s*['"]([A-Za-z_][A-Za-z0-9_]*)['"]\s*\)`)
	apiCallRE   = regexp.MustCompile("fetch\\(\\s*['\"`](/api/[A-Za-z0-9_\\-/]*)")
	dbHintRE    = regexp.MustCompile(`\b(?:supabase|createClient|prisma|useQuery|useSWR|sql)\b`)
)

var (
	routeExtensions     = map[string]bool{".ts": true, ".js": true, ".tsx": true, ".jsx": true}
	componentExtensions = map[string]bool{".tsx": true, ".jsx": true}
	skippedDirs         = map[string]bool{"node_modules": true, ".next": true, ".git": true, "dist": true, "build": true}
)

// Scanner discovers API routes and components under a project root
type Scanner struct {
	root          string
	routeDirs     []string
	componentDirs []string
}

// NewScanner creates a scanner; empty directory lists use the defaults
func NewScanner(root string, routeDirs, componentDirs []string) *Scanner {
	if len(routeDirs) == 0 {
		routeDirs = DefaultRouteDirs
	}
	if len(componentDirs) == 0 {
		componentDirs = DefaultComponentDirs
	}
	return &Scanner{root: root, routeDirs: routeDirs, componentDirs: componentDirs}
}

// WatchDirs returns the existing directories whose changes affect a snapshot
func (s *Scanner) WatchDirs() []string {
	var dirs []string
	for _, d := range append(append([]string{}, s.routeDirs...), s.componentDirs...) {
		full := filepath.Join(s.root, d)
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			dirs = append(dirs, full)
		}
	}
	return dirs
}

// Routes finds route-definition files that export HTTP method handlers.
// App-router files are named route.*; pages-router files are any module with
// a default export.
func (s *Scanner) Routes() ([]Route, error) {
	byPath := make(map[string]Route)
	for _, dir := range s.routeDirs {
		base := filepath.Join(s.root, dir)
		appRouter := !strings.Contains(filepath.ToSlash(dir), "pages/")

		err := walkSources(base, routeExtensions, func(path string, info fs.FileInfo, content string) {
			var methods []string
			if appRouter {
				if strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())) != "route" {
					return
				}
				methods = submatches(exportedMethodRE, content)
			} else {
				if !defaultExportRE.MatchString(content) {
					return
				}
				methods = submatches(requestMethodRE, content)
				if len(methods) == 0 {
					methods = []string{"ANY"}
				}
			}
			if len(methods) == 0 {
				return
			}

			routePath := routePathFor(base, path, appRouter)
			if _, seen := byPath[routePath]; seen {
				return
			}
			byPath[routePath] = Route{
				Path:         routePath,
				File:         s.rel(path),
				Methods:      methods,
				Exists:       true,
				LastModified: info.ModTime().UTC(),
			}
		})
		if err != nil {
			return nil, err
		}
	}

	routes := make([]Route, 0, len(byPath))
	for _, r := range byPath {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes, nil
}

// Components finds UI components and the tables and API routes they use
func (s *Scanner) Components() ([]Component, error) {
	seen := make(map[string]bool)
	var components []Component
	for _, dir := range s.componentDirs {
		err := walkSources(filepath.Join(s.root, dir), componentExtensions, func(path string, info fs.FileInfo, content string) {
			rel := s.rel(path)
			if seen[rel] {
				return
			}
			seen[rel] = true

			tables := submatches(fromTableRE, content)
			apis := submatches(apiCallRE, content)
			components = append(components, Component{
				Name:         strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())),
				File:         rel,
				UsesDatabase: len(tables) > 0 || len(apis) > 0 || dbHintRE.MatchString(content),
				Tables:       tables,
				APIs:         apis,
				LastModified: info.ModTime().UTC(),
			})
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(components, func(i, j int) bool { return components[i].File < components[j].File })
	return components, nil
}

func (s *Scanner) rel(path string) string {
	if rel, err := filepath.Rel(s.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// walkSources calls fn for every source file under base. A missing base is not an error.
func walkSources(base string, extensions map[string]bool, fn func(path string, info fs.FileInfo, content string)) error {
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensions[filepath.Ext(path)] || strings.HasSuffix(d.Name(), ".d.ts") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fn(path, info, string(content))
		return nil
	})
}

// routePathFor maps a route file to its URL path: app/api/users/[id]/route.ts
// becomes /api/users/[id] and pages/api/users/index.ts becomes /api/users
func routePathFor(base, path string, appRouter bool) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if appRouter {
		rel = strings.TrimSuffix(rel, filepath.Base(rel))
	} else {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel))
		rel = strings.TrimSuffix(rel, "index")
	}
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "/api"
	}
	return "/api/" + rel
}

// submatches returns the distinct first capture groups of re in s, in order
func submatches(re *regexp.Regexp, s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
