package views

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"saroolsync/internal/civil"
	"saroolsync/internal/model"
	"saroolsync/internal/sarool"
	"saroolsync/internal/snapshot"
)

const undefined = "Non défini"

// NextLessonView describes the upcoming lesson.
type NextLessonView struct {
	NextEvent      time.Time `json:"next_event"`
	Moniteur       string    `json:"moniteur"`
	LieuRdv        string    `json:"lieu_rdv"`
	Commentaire    string    `json:"commentaire"`
	Libelle        string    `json:"libelle"`
	DateFin        string    `json:"date_fin"`
	DureeMinutes   int       `json:"duree_minutes"`
	NumeroSequence int       `json:"numero_sequence,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
}

// NextLesson returns the view for the next lesson after now, or false when
// nothing is scheduled.
func NextLesson(lessons []model.Lesson, now time.Time) (NextLessonView, bool) {
	l, ok := NextEvent(lessons, now)
	if !ok {
		return NextLessonView{}, false
	}
	return NextLessonView{
		NextEvent:      l.Start,
		Moniteur:       orUndefined(l.Instructor),
		LieuRdv:        orUndefined(l.Location),
		Commentaire:    l.Comment,
		Libelle:        l.Label,
		DateFin:        civil.Format(l.End),
		DureeMinutes:   int(l.Duration() / time.Minute),
		NumeroSequence: l.Sequence,
		Title:          Title(l),
		Description:    Description(l),
	}, true
}

func orUndefined(s string) string {
	if strings.TrimSpace(s) == "" {
		return undefined
	}
	return s
}

// BalanceView carries the account balance. Balance mirrors SoldeGlobal.
type BalanceView struct {
	Balance         decimal.NullDecimal `json:"balance"`
	SoldeGlobal     decimal.NullDecimal `json:"solde_global"`
	SoldeReel       decimal.NullDecimal `json:"solde_reel"`
	NEPH            string              `json:"neph"`
	Formule         string              `json:"formule"`
	Moniteur        string              `json:"moniteur"`
	DateInscription string              `json:"date_inscription"`
}

// Balance builds the balance view from snap.
func Balance(snap *snapshot.Snapshot) BalanceView {
	if snap == nil {
		return BalanceView{}
	}
	return BalanceView{
		Balance:         snap.FinancialRecap.SoldeGlobal,
		SoldeGlobal:     snap.FinancialRecap.SoldeGlobal,
		SoldeReel:       snap.FinancialRecap.SoldeReel,
		NEPH:            snap.StudentInfo.NEPH.String(),
		Formule:         snap.StudentInfo.Formule.String(),
		Moniteur:        snap.StudentInfo.MoniteurReferent.String(),
		DateInscription: snap.StudentInfo.DateInscription.String(),
	}
}

// NotificationsView counts pending administrative items.
type NotificationsView struct {
	Count              int    `json:"count"`
	NbContratsASigner  int    `json:"nb_contrats_a_signer"`
	NbDossierIncomplet int    `json:"nb_dossier_incomplet"`
	FicheEvalSignee    bool   `json:"fiche_eval_signee"`
	Memo               string `json:"memo"`
}

// Notifications builds the notifications view from u.
func Notifications(u sarool.UserData) NotificationsView {
	return NotificationsView{
		Count:              NotificationCount(u),
		NbContratsASigner:  deref(u.NbContratsASigner),
		NbDossierIncomplet: deref(u.NbDossierIndispensable),
		FicheEvalSignee:    bool(u.IsFicheEvalSigne),
		Memo:               u.Memo.String(),
	}
}
