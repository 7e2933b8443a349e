package domain

// Verification request topics, one per provider family
const (
	TopicAolVerificationRequested     = "aol-verification-requested"
	TopicGmailVerificationRequested   = "gmail-verification-requested"
	TopicYahooVerificationRequested   = "yahoo-verification-requested"
	TopicOutlookVerificationRequested = "outlook-verification-requested"
	TopicMailruVerificationRequested  = "mailru-verification-requested"
	TopicCustomVerificationRequested  = "custom-verification-requested"
	TopicSkynetVerificationRequested  = "skynet-verification-requested"
)

// Result topics
const (
	TopicVerificationFinished = "verification-finished"
	TopicVerificationFailed   = "verification-failed"
	TopicVerificationBounced  = "verification-bounced"
)

// RequestTopics lists every verification request topic
var RequestTopics = []string{
	TopicAolVerificationRequested,
	TopicGmailVerificationRequested,
	TopicYahooVerificationRequested,
	TopicOutlookVerificationRequested,
	TopicMailruVerificationRequested,
	TopicCustomVerificationRequested,
	TopicSkynetVerificationRequested,
}

// ResultTopics lists the topics workers publish outcomes to
var ResultTopics = []string{
	TopicVerificationFinished,
	TopicVerificationFailed,
	TopicVerificationBounced,
}

// IsRequestTopic reports whether topic is a verification request topic
func IsRequestTopic(topic string) bool {
	for _, t := range RequestTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// AllTopics returns request and result topics
func AllTopics() []string {
	topics := make([]string, 0, len(RequestTopics)+len(ResultTopics))
	topics = append(topics, RequestTopics...)
	return append(topics, ResultTopics...)
}
