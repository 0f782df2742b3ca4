package identity

// userAgentTemplates are filled in by substituting {version}.
var userAgentTemplates = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/{version} Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:{version}) Gecko/20100101 Firefox/{version}",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/{version} Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/{version} Mobile/15E148 Safari/604.1",
}

var browserVersions = map[string][]string{
	"Chrome":  {"98.0.4758.102", "99.0.4844.51", "100.0.4896.75", "101.0.4951.67", "102.0.5005.115"},
	"Firefox": {"97.0", "98.0", "99.0", "100.0", "101.0"},
	"Safari":  {"15.0", "15.1", "15.2", "15.3", "15.4"},
}

var platforms = []string{"Windows", "Mac OS X", "Linux", "Android", "iOS"}

var browsers = []string{"Chrome", "Firefox", "Safari", "Edge", "Opera"}

var referrers = []string{
	"Direct",
	"https://www.google.com/",
	"https://www.facebook.com/",
	"https://twitter.com/",
	"https://www.reddit.com/",
	"https://www.youtube.com/",
	"https://www.instagram.com/",
	"https://www.linkedin.com/",
}

var resolutions = []string{"1920x1080", "1366x768", "1440x900", "1536x864", "2560x1440", "3840x2160"}

var colorDepths = []string{"24", "30", "32"}

var languages = []string{"en-US", "en-GB", "es-ES", "fr-FR", "de-DE", "zh-CN", "ja-JP", "ru-RU"}

var plugins = []string{
	"Chrome PDF Plugin", "Chrome PDF Viewer", "Native Client",
	"Adobe Acrobat", "QuickTime Plugin", "Java Applet Plug-in",
	"Shockwave Flash", "Silverlight Plug-In", "Unity Player",
	"Windows Media Player Plug-in",
}

const (
	minPlugins = 3
	maxPlugins = 8
	hashLength = 16
	hexDigits  = "0123456789abcdef"
)
