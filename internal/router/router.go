package router

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// MaxSegmentLength bounds one rendered path segment, in runes.
const MaxSegmentLength = 100

// SuffixLayout is the collision suffix appended before the extension.
const SuffixLayout = "20060102_150405"

// CustomerLookup resolves customer numbers to registry entries.
type CustomerLookup interface {
	Lookup(number string) (entity.Customer, bool)
}

// Options configures a Router.
type Options struct {
	RootDir       string
	UnclearDir    string
	UnresolvedDir string
	Profile       string
	FallbackToken string
	Profiles      map[string]Profile
	Now           func() time.Time
}

// Router renders storage paths from profiles.
type Router struct {
	opts      Options
	customers CustomerLookup
	logger    *slog.Logger
}

// New creates a router. A missing default profile is an error.
func New(opts Options, customers CustomerLookup, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Profiles == nil {
		opts.Profiles = Builtin()
	}
	if _, ok := opts.Profiles[DefaultProfile]; !ok {
		return nil, fmt.Errorf("%w: profile %q is missing", common.ErrInvalidInput, DefaultProfile)
	}
	if opts.Profile == "" {
		opts.Profile = DefaultProfile
	}
	if _, ok := opts.Profiles[opts.Profile]; !ok {
		return nil, fmt.Errorf("%w: unknown profile %q", common.ErrInvalidInput, opts.Profile)
	}
	if opts.FallbackToken == "" {
		opts.FallbackToken = "UNBEKANNT"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RootDir == "" {
		return nil, fmt.Errorf("%w: archive root is required", common.ErrInvalidInput)
	}
	if opts.UnclearDir == "" {
		opts.UnclearDir = filepath.Join(opts.RootDir, "_unklar")
	}
	if opts.UnresolvedDir == "" {
		opts.UnresolvedDir = filepath.Join(opts.RootDir, "_legacy_unklar")
	}
	return &Router{opts: opts, customers: customers, logger: logger}, nil
}

// Profile returns the named profile, or the active one for "".
func (r *Router) Profile(name string) (Profile, error) {
	if name == "" {
		name = r.opts.Profile
	}
	p, ok := r.opts.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown profile %q", common.ErrInvalidInput, name)
	}
	return p, nil
}

// Now returns the router clock's time.
func (r *Router) Now() time.Time {
	return r.opts.Now()
}

// Route renders the target path under the archive root for fields. ext is the source
// file's extension. The registry name of a known customer number wins over an extracted name.
func (r *Router) Route(fields entity.FieldMap, profileName, ext string) (string, error) {
	p, err := r.Profile(profileName)
	if err != nil {
		return "", err
	}
	if num, ok := fields.CustomerNumber.Get(); ok && r.customers != nil {
		if c, found := r.customers.Lookup(num); found {
			fields = fields.WithCustomer(c)
		}
	}
	values := r.values(fields)

	folder := r.render(p.Folder, values)
	var segments []string
	for _, seg := range strings.Split(folder, "/") {
		segments = append(segments, r.cleanSegment(seg))
	}
	name := r.cleanSegment(r.render(p.Filename, values))
	return filepath.Join(append(append([]string{r.opts.RootDir}, segments...), name+normalizeExt(ext))...), nil
}

// UnclearPath is the target for documents that could not be classified confidently.
func (r *Router) UnclearPath(fields entity.FieldMap, ext string) string {
	name := r.opts.Now().Format(SuffixLayout) + "_" + r.cleanSegment(fields.TypeLabel())
	return filepath.Join(r.opts.UnclearDir, name+normalizeExt(ext))
}

// UnresolvedPath is the target for legacy documents awaiting manual resolution.
func (r *Router) UnresolvedPath(sourceFilename string) string {
	ext := filepath.Ext(sourceFilename)
	base := r.cleanSegment(strings.TrimSuffix(filepath.Base(sourceFilename), ext))
	return filepath.Join(r.opts.UnresolvedDir, base+normalizeExt(ext))
}

// Unique returns target when nothing exists there. Otherwise it appends the router clock's
// timestamp before the extension, then a counter if documents for the same target arrive
// within one second. When every candidate is taken the result is ErrIOConflict.
func (r *Router) Unique(target string) (string, error) {
	return Unique(target, r.opts.Now())
}

// MaxSameSecondCopies bounds the counter tried after the timestamp suffix.
const MaxSameSecondCopies = 99

// Unique is Router.Unique with an explicit moment.
func Unique(target string, now time.Time) (string, error) {
	free, err := isFree(target)
	if err != nil || free {
		return target, err
	}
	ext := filepath.Ext(target)
	stamped := strings.TrimSuffix(target, ext) + "_" + now.Format(SuffixLayout)
	for n := 1; n <= MaxSameSecondCopies; n++ {
		candidate := stamped + ext
		if n > 1 {
			candidate = stamped + "_" + strconv.Itoa(n) + ext
		}
		free, err = isFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s and %d suffixed copies exist", common.ErrIOConflict, target, MaxSameSecondCopies)
}

func isFree(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, err
}

func (r *Router) values(f entity.FieldMap) map[string]string {
	v := map[string]string{}
	put := func(key string, o entity.Opt[string]) {
		if s, ok := o.Get(); ok && strings.TrimSpace(s) != "" {
			v[key] = s
		}
	}
	put(PhCustomerNumber, f.CustomerNumber)
	put(PhCustomerName, f.CustomerName)
	put(PhOrderNumber, f.OrderNumber)
	put(PhPlate, f.Plate)
	put(PhVehicleID, f.VehicleID)
	v[PhType] = f.TypeLabel()
	if y, ok := f.Year.Get(); ok {
		v[PhYear] = strconv.Itoa(y)
	}
	if d, ok := f.DocumentDate.Get(); ok {
		v[PhDate] = d.Format("2006-01-02")
		v[PhMonth] = d.Format("01")
		v[PhDay] = d.Format("02")
	}
	if n, ok := f.PageCount.Get(); ok && n > 0 {
		v[PhPageCount] = strconv.Itoa(n)
	}
	return v
}

// render substitutes placeholders literally. Separators inside values never start a new segment.
func (r *Router) render(template string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		val, ok := values[m[1:len(m)-1]]
		if !ok {
			return r.opts.FallbackToken
		}
		return strings.NewReplacer("/", "-", `\`, "-").Replace(val)
	})
}

// cleanSegment strips unsafe and control characters and never yields an empty or dot segment.
func (r *Router) cleanSegment(seg string) string {
	seg = strings.Map(func(c rune) rune {
		if unicode.IsControl(c) || strings.ContainsRune(unsafeChars, c) || c == '/' || c == '\\' {
			return -1
		}
		return c
	}, seg)
	seg = strings.Join(strings.Fields(seg), " ")
	if utf8.RuneCountInString(seg) > MaxSegmentLength {
		seg = string([]rune(seg)[:MaxSegmentLength])
	}
	seg = strings.TrimRight(strings.TrimSpace(seg), ".")
	if seg == "" {
		return r.opts.FallbackToken
	}
	return seg
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
