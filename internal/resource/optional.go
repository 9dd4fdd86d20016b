package resource

import "time"

// The helpers below turn optional upstream pointer fields into attribute
// values, yielding an untyped nil when the upstream omitted the field.

// OptString returns *p or nil
func OptString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// OptInt returns *p as int64 or nil
func OptInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// OptInt64 returns *p or nil
func OptInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// OptFloat32 returns *p as float64 or nil
func OptFloat32(p *float32) any {
	if p == nil {
		return nil
	}
	return float64(*p)
}

// OptFloat64 returns *p or nil
func OptFloat64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// OptBool returns *p or nil
func OptBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

// OptTime returns *p in UTC or nil
func OptTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

// OptEnum returns s or nil when s is empty
func OptEnum[S ~string](s S) any {
	if s == "" {
		return nil
	}
	return string(s)
}

// Deref returns *p or the zero value
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
