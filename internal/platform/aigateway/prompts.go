package aigateway

import "fmt"

// generation holds the fixed sampling parameters for one kind of output.
type generation struct {
	operation   string
	system      string
	temperature float64
	maxTokens   int
}

var (
	noteGeneration = generation{
		operation:   "note",
		system:      "You are a rural-friendly medical assistant. Respond only in valid JSON as instructed.",
		temperature: 0.3,
		maxTokens:   700,
	}
	prescriptionGeneration = generation{
		operation:   "prescription",
		system:      "Create clear medical prescriptions in local language.",
		temperature: 0.2,
		maxTokens:   300,
	}
	answerGeneration = generation{
		operation:   "answer",
		system:      "You are a rural-friendly medical assistant who explains things simply.",
		temperature: 0.5,
		maxTokens:   400,
	}
	dischargeGeneration = generation{
		operation:   "discharge_summary",
		system:      "You are a medical assistant generating discharge summaries.",
		temperature: 0.3,
		maxTokens:   400,
	}
	referralGeneration = generation{
		operation:   "referral_letter",
		system:      "You write formal medical referral letters.",
		temperature: 0.3,
		maxTokens:   400,
	}
)

func notePrompt(transcription, language, patientName string) string {
	return fmt.Sprintf(`You are an experienced rural healthcare assistant. Based on the following patient description (in %[1]s), generate a detailed and structured medical note in the same language.

Respond only with a valid JSON object in this format:

{
  "patient_name": %[2]q,
  "note": {
    "chief_complaint": "...",
    "history": "...",
    "symptoms": ["...", "..."],
    "observations": {
      "temperature": "...",
      "heart_rate": "...",
      "blood_pressure": "...",
      "general_condition": "..."
    },
    "assessment": "...",
    "plan": {
      "medications": "...",
      "first_aid": "...",
      "referral": "...",
      "follow_up": "..."
    }
  }
}

PATIENT DESCRIPTION:
%[3]q

Respond only in %[1]s. Output valid JSON.`, language, patientName, transcription)
}

// Prescription guidelines applied to every generated prescription.
const (
	guidelineFirstLine = "Paracetamol 500mg"
	guidelineAdvice    = "Rest, drink fluids, and monitor symptoms"
	guidelineFollowUp  = "Visit doctor in 3 days or if symptoms worsen"
)

func prescriptionPrompt(diagnosis, language string) string {
	return fmt.Sprintf(`Create a prescription in %s for the following:

- Diagnosis: %s
- Guidelines:
  - First line: %s
  - Advice: %s
  - Follow-up: %s

Format:
1. Patient Details
2. Medications with dosage
3. Advice
4. Follow-up Instructions

Keep it simple and clear.`, language, diagnosis, guidelineFirstLine, guidelineAdvice, guidelineFollowUp)
}

func answerPrompt(question, language string) string {
	return fmt.Sprintf(`Answer the following medical question for a rural Indian audience in %s. Be clear, simple, and culturally appropriate.

QUESTION:
%s`, language, question)
}

func dischargePrompt(diagnosis, treatment, followUp, language string) string {
	return fmt.Sprintf(`Generate a discharge summary in %s using the following:

- Diagnosis: %s
- Treatment: %s
- Follow-Up Instructions: %s

Format:
1. Diagnosis
2. Treatment Given
3. Follow-Up Instructions
4. Advice

Keep it simple, structured, and clear.`, language, diagnosis, treatment, followUp)
}

func referralPrompt(symptoms, specialistType, reason, language string) string {
	return fmt.Sprintf(`Write a medical referral letter in %s for the following:

- Symptoms: %s
- Referred To: %s
- Reason for Referral: %s

Format:
1. Patient Summary
2. Reason for Referral
3. Suggested Specialist
4. Additional Notes

Be polite, clear, and medically accurate.`, language, symptoms, specialistType, reason)
}
