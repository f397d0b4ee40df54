package client

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "02/01/2006"

func emailLayout(title, body string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html lang="fr">
<head><meta charset="UTF-8"><title>%s</title></head>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f4f4f4;">
  <table role="presentation" style="width:100%%;border-collapse:collapse;">
    <tr><td align="center" style="padding:40px 0;">
      <table role="presentation" style="width:600px;border-collapse:collapse;background-color:#ffffff;border-radius:8px;">
        <tr><td style="padding:32px 30px;text-align:center;background-color:#1D4ED8;border-radius:8px 8px 0 0;">
          <h1 style="margin:0;color:#ffffff;font-size:24px;">%s</h1>
        </td></tr>
        <tr><td style="padding:32px 30px;font-size:15px;line-height:22px;color:#333333;">
%s
        </td></tr>
        <tr><td style="padding:24px;text-align:center;background-color:#f8f8f8;border-radius:0 0 8px 8px;">
          <p style="margin:0;font-size:12px;color:#999999;">CivicQO — la participation citoyenne pour votre collectivité</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`, title, title, body)
}

func buttonHTML(label, url string) string {
	return fmt.Sprintf(`<p style="text-align:center;margin:28px 0;"><a href="%s" style="display:inline-block;padding:12px 36px;background-color:#1D4ED8;color:#ffffff;text-decoration:none;border-radius:6px;font-weight:bold;">%s</a></p>`, url, label)
}

func quoteEmailTemplate(contactName, quoteNumber string, total decimal.Decimal, validUntil time.Time, acceptURL string) string {
	body := fmt.Sprintf(`
<p>Bonjour %s,</p>
<p>Veuillez trouver votre devis <strong>%s</strong> d'un montant total de <strong>%s &euro; TTC</strong>.</p>
<p>Ce devis est valable jusqu'au <strong>%s</strong>. Vous pouvez le consulter et l'accepter en ligne :</p>
%s
<p>Pour un r&egrave;glement par mandat administratif, l'acceptation du devis d&eacute;clenchera l'&eacute;mission du bon de commande.</p>`,
		contactName, quoteNumber, total.StringFixed(2), validUntil.Format(dateLayout),
		buttonHTML("Consulter le devis", acceptURL))
	return emailLayout("Votre devis", body)
}

func invoiceEmailTemplate(contactName, invoiceNumber string, total decimal.Decimal, dueDate time.Time) string {
	body := fmt.Sprintf(`
<p>Bonjour %s,</p>
<p>Veuillez trouver votre facture <strong>%s</strong> d'un montant total de <strong>%s &euro; TTC</strong>.</p>
<p>Le r&egrave;glement est attendu avant le <strong>%s</strong> par virement administratif.</p>
<p>La facture au format PDF est jointe &agrave; ce message.</p>`,
		contactName, invoiceNumber, total.StringFixed(2), dueDate.Format(dateLayout))
	return emailLayout("Votre facture", body)
}

func trialExpiryTemplate(tenantName string, endDate time.Time, renewURL string) string {
	body := fmt.Sprintf(`
<p>Bonjour,</p>
<p>La p&eacute;riode d'essai de <strong>%s</strong> se termine le <strong>%s</strong>.</p>
<p>Pour continuer &agrave; utiliser la plateforme sans interruption, choisissez votre formule d'abonnement :</p>
%s
<p>Les collectivit&eacute;s qui ne peuvent pas r&eacute;gler par carte peuvent opter pour le mandat administratif.</p>`,
		tenantName, endDate.Format(dateLayout), buttonHTML("Choisir une formule", renewURL))
	return emailLayout("Fin de période d'essai", body)
}

func subscriptionExpiryTemplate(tenantName string, endDate time.Time, renewURL string) string {
	body := fmt.Sprintf(`
<p>Bonjour,</p>
<p>L'abonnement de <strong>%s</strong> arrive &agrave; &eacute;ch&eacute;ance le <strong>%s</strong>.</p>
<p>Pour renouveler par mandat administratif, demandez votre nouveau devis d&egrave;s maintenant :</p>
%s
<p>Sans renouvellement, l'acc&egrave;s passera en lecture seule &agrave; l'issue de la p&eacute;riode de gr&acirc;ce.</p>`,
		tenantName, endDate.Format(dateLayout), buttonHTML("Renouveler l'abonnement", renewURL))
	return emailLayout("Échéance d'abonnement", body)
}
