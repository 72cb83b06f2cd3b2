package sarool

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Credentials is the PK/UK pair issued by POST /Peripherique.
type Credentials struct {
	PK string `json:"PK"`
	UK string `json:"UK"`
}

// Valid reports whether both tokens are present.
func (c Credentials) Valid() bool {
	return c.PK != "" && c.UK != ""
}

type authRequest struct {
	Identifiant string  `json:"Identifiant"`
	MotDePasse  string  `json:"MotDePasse"`
	Descriptif  string  `json:"Descriptif"`
	PushToken   *string `json:"PushToken"`
}

// StudentInfo is the F1 document.
type StudentInfo struct {
	NEPH             Text `json:"NEPH"`
	Nom              Text `json:"Nom"`
	Prenom           Text `json:"Prenom"`
	Formule          Text `json:"Formule"`
	MoniteurReferent Text `json:"MoniteurReferent"`
	DateInscription  Text `json:"DateInscription"`
}

// FinancialRecap is the F2 document. Balances are nullable.
type FinancialRecap struct {
	SoldeGlobal decimal.NullDecimal `json:"SoldeGlobal"`
	SoldeReel   decimal.NullDecimal `json:"SoldeReel"`
}

// UserData is the Utilisateur/Donnees document.
type UserData struct {
	NbContratsASigner      *Count `json:"NbContratsASigner"`
	NbDossierIndispensable *Count `json:"NbDossierIndispensable"`
	IsFicheEvalSigne       Flag   `json:"IsFicheEvalSigne"`
	Memo                   Text   `json:"Memo"`
}

// UserDataFlags selects the optional parts of Utilisateur/Donnees.
type UserDataFlags struct {
	WithPersistent bool
	WithInfo       bool
	WithRecap      bool
	WithFiles      bool
}

// DefaultUserDataFlags matches what the mobile app requests.
func DefaultUserDataFlags() UserDataFlags {
	return UserDataFlags{WithPersistent: true, WithInfo: true, WithRecap: true, WithFiles: false}
}

// Variant tags the schema shape a schedule record was decoded from.
type Variant string

const (
	// VariantAppointment is the older RendezVous shape: explicit start and end.
	VariantAppointment Variant = "RendezVous"
	// VariantLesson is the newer Lecons shape: start plus duration, cancellable.
	VariantLesson Variant = "Lecons"
)

// Appointment is one RendezVous entry.
type Appointment struct {
	DateDebut   string `json:"DateDebut"`
	DateFin     string `json:"DateFin"`
	Libelle     string `json:"Libelle"`
	Moniteur    string `json:"Moniteur"`
	LieuRdv     string `json:"LieuRdv"`
	Commentaire string `json:"Commentaire"`
}

// Lesson is one Lecons entry.
type Lesson struct {
	DateDebut       string `json:"DateDebut"`
	DateFin         string `json:"DateFin"`
	Duree           *int   `json:"Duree"`
	Libelle         string `json:"Libelle"`
	Moniteur        string `json:"Moniteur"`
	LieuRdv         string `json:"LieuRdv"`
	Commentaire     string `json:"Commentaire"`
	NotePedagogique string `json:"NotePedagogique"`
	IsAnnule        Flag   `json:"IsAnnule"`
	NumeroSequence  int    `json:"NumeroSequence"`
}

// Record is a tagged union over the two schedule shapes. A record whose JSON
// did not match its shape keeps DecodeErr and is skipped downstream.
type Record struct {
	Variant     Variant
	Appointment *Appointment
	Lesson      *Lesson
	DecodeErr   error
}

// Schedule is the F3 document.
type Schedule struct {
	Records []Record
}

// UnmarshalJSON decodes each array element on its own so one malformed
// record does not fail the whole schedule.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var raw struct {
		RendezVous []json.RawMessage `json:"RendezVous"`
		Lecons     []json.RawMessage `json:"Lecons"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	records := make([]Record, 0, len(raw.RendezVous)+len(raw.Lecons))
	for _, item := range raw.RendezVous {
		rec := Record{Variant: VariantAppointment}
		var a Appointment
		if err := json.Unmarshal(item, &a); err != nil {
			rec.DecodeErr = err
		} else {
			rec.Appointment = &a
		}
		records = append(records, rec)
	}
	for _, item := range raw.Lecons {
		rec := Record{Variant: VariantLesson}
		var l Lesson
		if err := json.Unmarshal(item, &l); err != nil {
			rec.DecodeErr = err
		} else {
			rec.Lesson = &l
		}
		records = append(records, rec)
	}
	s.Records = records
	return nil
}

// Flag decodes the API's boolean-ish fields: true/false, 0/1, "0"/"1", null.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	v := string(bytes.TrimSpace(data))
	switch v {
	case "null", "":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	v = strings.Trim(v, `"`)
	if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
		*f = Flag(b)
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("flag: unexpected value %s", string(data))
	}
	*f = n != 0
	return nil
}

// Text decodes a scalar attribute the API may send as a string, a number,
// a boolean or null. Non-string scalars keep their literal JSON text.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	v := bytes.TrimSpace(data)
	switch {
	case len(v) == 0 || string(v) == "null":
		*t = ""
		return nil
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case v[0] == '{' || v[0] == '[':
		return fmt.Errorf("text: unexpected value %s", string(data))
	}
	*t = Text(v)
	return nil
}

// String returns t as a plain string.
func (t Text) String() string { return string(t) }

// Count decodes a counter sent as a number or a quoted number.
// A null counter leaves the enclosing pointer nil.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	v := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if v == "" || v == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("count: unexpected value %s", string(data))
	}
	*c = Count(n)
	return nil
}
