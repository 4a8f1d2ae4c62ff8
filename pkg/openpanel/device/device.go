// Package device supplies the metadata attached to every tracked event and
// the user-agent string sent with every request.
package device

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Property keys emitted by BasicProperties.
const (
	KeyOS             = "__os"
	KeyOSVersion      = "__osVersion"
	KeyDevice         = "__device"
	KeyModel          = "__model"
	KeyBrand          = "__brand"
	KeyVersion        = "__version"
	KeyBuild          = "__build"
	KeyLanguage       = "__language"
	KeySystemLanguage = "__system_language"
	KeyLocale         = "__locale"
	KeyTimezone       = "__timezone"
)

// Source provides the basic device properties merged into track events.
type Source interface {
	BasicProperties() map[string]string
}

// UserAgentBuilder provides the user-agent header value.
type UserAgentBuilder interface {
	UserAgent() string
}

// App identifies the host application.
type App struct {
	Name    string
	Version string
	Build   string
}

// Info is the default Source and UserAgentBuilder.
type Info struct {
	App App

	OS        string
	OSVersion string
	Device    string
	Model     string
	Brand     string

	// Language is the language the application runs in, SystemLanguage the
	// user's most preferred one. Both are bare language subtags.
	Language       string
	SystemLanguage string

	// Locale is an identifier like en_US.
	Locale string

	// Location is used for the timezone offset. Nil means time.Local.
	Location *time.Location

	// SDKVersion is reported in the user agent.
	SDKVersion string

	now func() time.Time
}

// Detect builds an Info from the Go runtime and the process environment.
func Detect(app App, sdkVersion string) *Info {
	if app.Name == "" {
		app.Name = appName()
	}
	if app.Version == "" {
		app.Version = "0.0.0"
	}
	if app.Build == "" {
		app.Build = "0"
	}

	loc := parseLocale(firstEnv("LC_ALL", "LC_MESSAGES", "LANG"))
	sys := loc
	if pref := os.Getenv("LANGUAGE"); pref != "" {
		sys = parseLocale(strings.Split(pref, ":")[0])
	}

	return &Info{
		App:            app,
		OS:             runtime.GOOS,
		OSVersion:      osVersion(),
		Device:         "server",
		Model:          runtime.GOARCH,
		Brand:          runtime.Compiler,
		Language:       loc.language,
		SystemLanguage: sys.language,
		Locale:         loc.identifier,
		Location:       time.Local,
		SDKVersion:     sdkVersion,
	}
}

// BasicProperties returns the device keys. Empty values are left out.
func (i *Info) BasicProperties() map[string]string {
	props := map[string]string{
		KeyOS:             i.OS,
		KeyOSVersion:      i.OSVersion,
		KeyDevice:         i.Device,
		KeyModel:          i.Model,
		KeyBrand:          i.Brand,
		KeyVersion:        i.App.Version,
		KeyBuild:          i.App.Build,
		KeyLanguage:       i.Language,
		KeySystemLanguage: i.SystemLanguage,
		KeyLocale:         i.Locale,
		KeyTimezone:       i.Timezone(),
	}
	for k, v := range props {
		if v == "" {
			delete(props, k)
		}
	}
	return props
}

// UserAgent renders "App/ver (build; model; os osver) OpenPanel/sdkver".
func (i *Info) UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s; %s %s) OpenPanel/%s",
		i.App.Name, i.App.Version, i.App.Build, i.Model, i.OS, i.OSVersion, i.SDKVersion)
}

// Timezone returns the current offset of Location, e.g. "UTC+1" or "UTC-3:30".
func (i *Info) Timezone() string {
	now := time.Now
	if i.now != nil {
		now = i.now
	}
	loc := i.Location
	if loc == nil {
		loc = time.Local
	}
	_, offset := now().In(loc).Zone()
	return FormatOffset(offset)
}

// FormatOffset renders an offset east of UTC in seconds as UTC±H[:MM].
func FormatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	hours := seconds / 3600
	minutes := seconds / 60 % 60
	if minutes > 0 {
		return fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
	}
	return fmt.Sprintf("UTC%s%d", sign, hours)
}

type locale struct {
	language   string
	identifier string
}

// parseLocale turns a POSIX locale such as "de_DE.UTF-8@euro" into its
// language subtag and an identifier of the form "de_DE".
func parseLocale(raw string) locale {
	und := locale{language: "und", identifier: "und"}

	raw, _, _ = strings.Cut(raw, ".")
	raw, _, _ = strings.Cut(raw, "@")
	if raw == "" || raw == "C" || raw == "POSIX" {
		return und
	}

	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return und
	}

	base, _ := tag.Base()
	out := locale{language: base.String(), identifier: base.String()}
	if region, conf := tag.Region(); conf == language.Exact {
		out.identifier = base.String() + "_" + region.String()
	}
	return out
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func appName() string {
	exe, err := os.Executable()
	if err != nil {
		return "UnknownApp"
	}
	name := exe[strings.LastIndexAny(exe, `/\`)+1:]
	return strings.TrimSuffix(name, ".exe")
}

// osVersion reads VERSION_ID from /etc/os-release where available.
func osVersion() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "VERSION_ID="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return "unknown"
}
