package es

import "log/slog"

// Version is the number of the last event applied to an aggregate. A fresh
// aggregate is at NoVersion; the first event moves it to 0, and every
// further event advances it by exactly one.
type Version int64

// NoVersion marks an aggregate without events. As an expected version it
// means "whatever is current".
const NoVersion Version = -1

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }
