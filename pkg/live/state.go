package live

import (
	"math"
	"math/rand"
	"time"

	"skillcoach-engine/pkg/signal"
	"skillcoach-engine/pkg/skills"
)

const (
	// CelebrationThreshold is the confidence a moment must exceed to be celebrated
	CelebrationThreshold = 0.8

	pulsingEnergy       = 0.7
	vocalConfidence     = 0.7
	vocalStability      = 0.6
	burstParticles      = 12
	burstLife           = 1.5
	burstSize           = 4.0
	pulseFrequencyHz    = 1.2
	auraFrequencyHz     = 0.8
	defaultDecay        = 0.98
	defaultMaxAuras     = 16
	defaultMaxParticles = 200
)

// Config bounds the visualization state
type Config struct {
	MaxParticles  int
	MaxSkillAuras int
	AuraLifetime  time.Duration
	// ParticleDecay multiplies particle size on every tick
	ParticleDecay float64
}

// DefaultConfig returns the reference visualization limits
func DefaultConfig() Config {
	return Config{
		MaxParticles:  defaultMaxParticles,
		MaxSkillAuras: defaultMaxAuras,
		AuraLifetime:  5 * time.Second,
		ParticleDecay: defaultDecay,
	}
}

// Vec2 is a point or velocity in normalized screen space
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Particle is a short-lived visual effect
type Particle struct {
	Position Vec2    `json:"position"`
	Velocity Vec2    `json:"velocity"`
	Life     float64 `json:"life"`
	Size     float64 `json:"size"`
}

// SkillAura highlights a freshly detected moment
type SkillAura struct {
	MomentID  string          `json:"moment_id"`
	Category  skills.Category `json:"category"`
	Position  Vec2            `json:"position"`
	Intensity float64         `json:"intensity"`
	Phase     float64         `json:"phase"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ConfidenceAura tracks the latest delivery metrics
type ConfidenceAura struct {
	Level      float64 `json:"level"`
	Stability  float64 `json:"stability"`
	Energy     float64 `json:"energy"`
	Pulsing    bool    `json:"pulsing"`
	PulsePhase float64 `json:"pulse_phase"`
}

// CommunicationPatterns holds the most recent audio-derived delivery values
// and the questions asked so far in the session
type CommunicationPatterns struct {
	SpeakingPace    float64   `json:"speaking_pace"`
	Clarity         float64   `json:"clarity"`
	VolumeStability float64   `json:"volume_stability"`
	PausePattern    float64   `json:"pause_pattern"`
	QuestionsAsked  int       `json:"questions_asked"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IndicatorScore is a leadership score with the time it last fired
type IndicatorScore struct {
	Score        float64   `json:"score"`
	LastDetected time.Time `json:"last_detected"`
}

// LeadershipIndicators holds vocal, verbal and non-verbal leadership scores
type LeadershipIndicators struct {
	Vocal     IndicatorScore `json:"vocal"`
	Verbal    IndicatorScore `json:"verbal"`
	NonVerbal IndicatorScore `json:"non_verbal"`
}

// Indicators bundles the rolling scalar summaries
type Indicators struct {
	Communication CommunicationPatterns `json:"communication"`
	Leadership    LeadershipIndicators  `json:"leadership"`
}

// Snapshot is an immutable copy of the visualization state
type Snapshot struct {
	Aura       ConfidenceAura `json:"aura"`
	Particles  []Particle     `json:"particles"`
	SkillAuras []SkillAura    `json:"skill_auras"`
	Indicators Indicators     `json:"indicators"`
	TakenAt    time.Time      `json:"taken_at"`
}

// State is the mutable visualization state of one session. It is not safe
// for concurrent use; the owning session goroutine serializes all access.
type State struct {
	cfg        Config
	rng        *rand.Rand
	aura       ConfidenceAura
	particles  []Particle
	skillAuras []SkillAura
	indicators Indicators
}

// NewState creates an empty state. rng positions auras and burst particles.
func NewState(cfg Config, rng *rand.Rand) *State {
	if cfg.MaxParticles <= 0 {
		cfg.MaxParticles = defaultMaxParticles
	}
	if cfg.MaxSkillAuras <= 0 {
		cfg.MaxSkillAuras = defaultMaxAuras
	}
	if cfg.AuraLifetime <= 0 {
		cfg.AuraLifetime = 5 * time.Second
	}
	if cfg.ParticleDecay <= 0 || cfg.ParticleDecay > 1 {
		cfg.ParticleDecay = defaultDecay
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &State{cfg: cfg, rng: rng}
}

// ApplyAudio overwrites the aura and communication patterns and fires the
// vocal leadership indicator on confident, steady delivery.
func (s *State) ApplyAudio(m signal.AudioMetrics, now time.Time) {
	s.aura.Level = m.Confidence
	s.aura.Stability = m.VolumeStability
	s.aura.Energy = m.Energy
	s.aura.Pulsing = m.Energy > pulsingEnergy

	comm := &s.indicators.Communication
	comm.SpeakingPace = m.SpeakingPace
	comm.Clarity = m.Clarity
	comm.VolumeStability = m.VolumeStability
	comm.PausePattern = m.PausePattern
	comm.UpdatedAt = now

	if m.Confidence > vocalConfidence && m.VolumeStability > vocalStability {
		s.indicators.Leadership.Vocal = IndicatorScore{Score: m.Confidence, LastDetected: now}
	}
}

// ApplySpeech counts questions and fires the verbal leadership indicator
// with the strongest pattern
func (s *State) ApplySpeech(a signal.SpeechAnalysis, now time.Time) {
	if a.QuestionCount > 0 {
		s.indicators.Communication.QuestionsAsked += a.QuestionCount
	}
	if len(a.LeadershipPatterns) == 0 {
		return
	}
	var strongest float64
	for _, p := range a.LeadershipPatterns {
		strongest = math.Max(strongest, p.Strength)
	}
	s.indicators.Leadership.Verbal = IndicatorScore{Score: strongest, LastDetected: now}
}

// ApplyBehavior fires the non-verbal leadership indicator
func (s *State) ApplyBehavior(a signal.BehaviorAnalysis, now time.Time) {
	if len(a.LeadershipMarkers) == 0 {
		return
	}
	s.indicators.Leadership.NonVerbal = IndicatorScore{Score: a.LeadershipScore, LastDetected: now}
}

// AddMoment places a skill aura for the moment and returns true when the
// moment also earned a celebration burst.
func (s *State) AddMoment(m skills.SkillMoment, now time.Time) bool {
	pos := Vec2{X: s.rng.Float64(), Y: s.rng.Float64()}
	if len(s.skillAuras) >= s.cfg.MaxSkillAuras {
		s.skillAuras = s.skillAuras[1:]
	}
	s.skillAuras = append(s.skillAuras, SkillAura{
		MomentID:  m.ID,
		Category:  m.Category,
		Position:  pos,
		Intensity: m.Confidence,
		ExpiresAt: now.Add(s.cfg.AuraLifetime),
	})

	if !IsCelebration(m.Confidence) {
		return false
	}
	for i := 0; i < burstParticles; i++ {
		angle := 2 * math.Pi * float64(i) / burstParticles
		speed := 0.1 + 0.2*s.rng.Float64()
		s.addParticle(Particle{
			Position: pos,
			Velocity: Vec2{X: math.Cos(angle) * speed, Y: math.Sin(angle) * speed},
			Life:     burstLife,
			Size:     burstSize,
		})
	}
	return true
}

// IsCelebration reports whether a confidence earns a celebration
func IsCelebration(confidence float64) bool {
	return confidence > CelebrationThreshold
}

func (s *State) addParticle(p Particle) {
	if len(s.particles) >= s.cfg.MaxParticles {
		s.particles = s.particles[1:]
	}
	s.particles = append(s.particles, p)
}

// Tick advances particles and animation phases by dt and expires auras
func (s *State) Tick(now time.Time, dt time.Duration) {
	secs := dt.Seconds()

	alive := s.particles[:0]
	for _, p := range s.particles {
		p.Position.X += p.Velocity.X * secs
		p.Position.Y += p.Velocity.Y * secs
		p.Life -= secs
		p.Size *= s.cfg.ParticleDecay
		if p.Life > 0 {
			alive = append(alive, p)
		}
	}
	clear(s.particles[len(alive):])
	s.particles = alive

	active := s.skillAuras[:0]
	for _, a := range s.skillAuras {
		if now.After(a.ExpiresAt) {
			continue
		}
		a.Phase = advancePhase(a.Phase, auraFrequencyHz, secs)
		active = append(active, a)
	}
	clear(s.skillAuras[len(active):])
	s.skillAuras = active

	if s.aura.Pulsing {
		s.aura.PulsePhase = advancePhase(s.aura.PulsePhase, pulseFrequencyHz, secs)
	}
}

func advancePhase(phase, hz, secs float64) float64 {
	return math.Mod(phase+2*math.Pi*hz*secs, 2*math.Pi)
}

// Indicators returns the current scalar summaries
func (s *State) Indicators() Indicators {
	return s.indicators
}

// Snapshot copies the state
func (s *State) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Aura:       s.aura,
		Particles:  append([]Particle(nil), s.particles...),
		SkillAuras: append([]SkillAura(nil), s.skillAuras...),
		Indicators: s.indicators,
		TakenAt:    now,
	}
}
