package notify

import "github.com/shopcal/shopcal/libs/config"

// EmailSenderFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_FROM, SMTP_USERNAME and
// SMTP_PASSWORD. Without a host mail is dropped.
func EmailSenderFromEnv() EmailSender {
	host := config.String("SMTP_HOST", "")
	if host == "" {
		return NoopEmailSender{}
	}
	return NewSMTPSender(SMTPConfig{
		Host:     host,
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", ""),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})
}

// SMSSenderFromEnv reads SMS_WEBHOOK_URL and SMS_WEBHOOK_TOKEN.
func SMSSenderFromEnv() SMSSender {
	url := config.String("SMS_WEBHOOK_URL", "")
	if url == "" {
		return NoopSMSSender{}
	}
	return NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
}
