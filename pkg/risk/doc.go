// Package risk scores authentication requests for automation and attack
// behavior. The analyzer blends timing, user-agent, header-consistency,
// geographic and network sub-scores into one composite score and level.
// Geographic and network lookups plug in behind the IPScorer interface; the
// static default returns a low fixed score until real lookups are wired in.
package risk
