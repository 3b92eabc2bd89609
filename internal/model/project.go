package model

import (
	"time"
)

// Audience describes who a content project targets.
type Audience struct {
	Age       string   `json:"age,omitempty" yaml:"age"`
	Gender    string   `json:"gender,omitempty" yaml:"gender"`
	Interests []string `json:"interests,omitempty" yaml:"interests"`
}

// ProjectProfile is the content niche definition used by every filter stage.
type ProjectProfile struct {
	Niche        string   `json:"niche" yaml:"niche"`
	SubNiche     string   `json:"sub_niche,omitempty" yaml:"sub_niche"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords"`
	Format       []string `json:"format,omitempty" yaml:"format"`
	Audience     Audience `json:"audience" yaml:"audience"`
	Tone         string   `json:"tone,omitempty" yaml:"tone"`
	Exclude      []string `json:"exclude,omitempty" yaml:"exclude"`
	AntiKeywords []string `json:"anti_keywords,omitempty" yaml:"anti_keywords"`
}

// Project is a user's content project.
type Project struct {
	ID        string         `json:"id" yaml:"id"`
	UserID    string         `json:"user_id" yaml:"user_id"`
	Name      string         `json:"name" yaml:"name"`
	Profile   ProjectProfile `json:"profile" yaml:"profile"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
}

// CreditPool holds a user's metered credits in drain order: bonus,
// rollover, then main.
type CreditPool struct {
	Bonus    int64 `json:"bonus_credits" yaml:"bonus"`
	Rollover int64 `json:"rollover_credits" yaml:"rollover"`
	Main     int64 `json:"credits" yaml:"main"`
}

// Total returns the sum of all buckets.
func (p CreditPool) Total() int64 {
	return p.Bonus + p.Rollover + p.Main
}

// User owns projects, scan configs and a credit pool.
type User struct {
	ID      string     `json:"id" yaml:"id"`
	Email   string     `json:"email" yaml:"email"`
	Credits CreditPool `json:"credits" yaml:"credits"`
}
