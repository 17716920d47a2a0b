// Package messages renders the user-facing German texts and embeds.
package messages

import (
	"fmt"
	"strings"
	"time"

	"memberbot/internal/transport"
)

// Color is the accent colour of every embed (#e5aa74).
const Color = 0xe5aa74

// WebhookUsername is the display name of log webhook posts.
const WebhookUsername = "Mitgliedschafts-Log"

// Command replies.
const (
	NoPermission       = "Keine Berechtigung."
	CommandsLocked     = "Befehle sind gesperrt."
	InvalidDuration    = "Ungültiges Zeitformat. Beispiel: 1d, 12h, 30m"
	RoleNotFound       = "Elite-Rolle nicht gefunden."
	AlreadyMember      = "Der User hat bereits eine Mitgliedschaft."
	NotMember          = "Der User hat keine Mitgliedschaft."
	RoleGone           = "Rolle existiert nicht mehr."
	AddRoleFailed      = "Fehler beim Rollen hinzufügen."
	RemoveRoleFailed   = "Fehler beim Rollen entfernen."
	SaveFailed         = "Fehler beim Speichern der Mitgliedschaft."
	Granted            = "Mitgliedschaft wurde hinzugefügt."
	Revoked            = "Mitgliedschaft wurde entfernt."
	InternalError      = "Interner Fehler."
	TimedOut           = "Zeitüberschreitung, bitte erneut versuchen."
	UnknownCommand     = "Unbekannter Befehl."
	MissingOption      = "Fehlende Angabe: %s"
	LockedNow          = "Befehle wurden gesperrt."
	UnlockedNow        = "Befehle wurden entsperrt."
	MembershipNone     = "<@%s> hat keine Mitgliedschaft."
	MembershipActive   = "<@%s> ist %s Mitglied bis %s."
	MembershipForever  = "<@%s> ist %s Mitglied ohne Ablaufdatum."
	MembershipRoleMiss = "<@%s> hat eine Mitgliedschaft, aber die Rolle existiert nicht mehr."
)

// Timestamp renders t as a Discord long date-time tag.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func withSignature(body, signature string) string {
	if s := strings.TrimSpace(signature); s != "" {
		return body + "\n– **" + s + "**"
	}
	return body
}

// WelcomeDM is sent to a user who was granted the role.
func WelcomeDM(userID, roleName string, expireAt time.Time, signature string) transport.Embed {
	body := fmt.Sprintf("## <@%s> du bist nun **%s** Mitglied!\nㅤ\n", userID, roleName) +
		"### - 💎 | Deine Vorteile sind jetzt freigeschaltet!\n" +
		fmt.Sprintf("### - 📅 | Die Rolle ist bis %s aktiv!\n", Timestamp(expireAt)) +
		"### - 📱 | Du wirst **automatisch benachrichtigt**, sobald deine **Mitgliedschaft** abläuft.\nㅤ\n" +
		"> **Danke für deine Unterstützung!** ❤️"
	return transport.Embed{Color: Color, Description: withSignature(body, signature)}
}

// EndedDM is sent when a membership expires or is removed.
func EndedDM(userID, roleName, signature string) transport.Embed {
	body := fmt.Sprintf("## <@%s> deine %s Mitgliedschaft ist abgelaufen.\nㅤ\n", userID, roleName) +
		"### - 🔒 | Deine Vorteile wurden deaktiviert.\n" +
		"### - 📅 | Um sie erneut freizuschalten, wiederhole den Kaufprozess.\nㅤ\n" +
		fmt.Sprintf("> **Wir würden uns freuen, dich bald wieder als %s Mitglied zu begrüßen!** ❤️", roleName)
	return transport.Embed{Color: Color, Description: withSignature(body, signature)}
}

func GrantedLog(roleName, userID, duration, actorID string) transport.Embed {
	return transport.Embed{
		Title:       "Mitgliedschaft hinzugefügt",
		Color:       Color,
		Description: fmt.Sprintf("%s wurde <@%s> für %s zugewiesen von <@%s>.", roleName, userID, duration, actorID),
	}
}

func RevokedLog(roleName, userID, actorID string) transport.Embed {
	return transport.Embed{
		Title:       "Mitgliedschaft entfernt",
		Color:       Color,
		Description: fmt.Sprintf("%s wurde von <@%s> entfernt durch <@%s>.", roleName, userID, actorID),
	}
}

func ExpiredLog(roleName, userID string) transport.Embed {
	return transport.Embed{
		Title:       "Mitgliedschaft abgelaufen",
		Color:       Color,
		Description: fmt.Sprintf("%s Mitgliedschaft von <@%s> wurde automatisch entfernt.", roleName, userID),
	}
}

// Stats renders the live statistics embed.
func Stats(title string, count, price int, currency string, now time.Time) transport.Embed {
	if title == "" {
		title = "💎 Elite-Mitglieder Statistik"
	}
	if currency == "" {
		currency = "€"
	}
	return transport.Embed{
		Title: title,
		Color: Color,
		Fields: []transport.EmbedField{
			{Name: "Aktuelle Elite-Mitglieder", Value: fmt.Sprintf("%d", count), Inline: true},
			{Name: "Geschätzter Monatsumsatz", Value: fmt.Sprintf("%d %s", count*price, currency), Inline: true},
		},
		Timestamp: now,
	}
}
