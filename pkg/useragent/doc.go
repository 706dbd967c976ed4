// Package useragent parses raw client-identification strings into browser,
// OS, device-type and engine fields. Native-app clients reporting the
// structured "AppName/Version (Platform;Token)" template are classified
// before conventional browser signature matching. Parsing is pure and
// deterministic.
package useragent
