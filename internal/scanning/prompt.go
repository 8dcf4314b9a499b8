package scanning

// mailScanPrompt is the shared prompt used by all vision model providers
const mailScanPrompt = `You are analyzing a photo of a piece of mail (envelope, card, postcard, package or letter). Carefully read all text in the image, including handwriting, and extract the following information:

1. **Name**: The name of the primary subject of the mail, not necessarily whoever posted it.
   - Wedding invitations and save the dates: both partners' names (e.g. "Jane Smith & John Doe").
   - Graduation announcements: the graduate.
   - Birth and baby announcements: the parent(s), never the baby.
   - Any other correspondence: the sender. Check the return address first, then a signature, the closing ("Sincerely, ..."), a letterhead or a "From:" line.

2. **Return Address**: The sender's address, usually in the top-left corner of an envelope or on the back flap:
   - Street address (including apartment or suite)
   - City
   - State (two-letter abbreviation)
   - ZIP code

3. **Category**: Exactly one of:
   - "Graduation Announcement" - graduation announcements and party invitations
   - "Wedding Invitation" - wedding invitations, save the dates, RSVP cards
   - "Baby Announcement" - birth announcements, baby shower invitations
   - "Fan Letters" - letters praising a product or service or expressing appreciation
   - "Other" - anything that does not fit the categories above

Return ONLY valid JSON in this exact format:
{
  "sender_name": "Full Name",
  "street": "123 Main St",
  "city": "Springfield",
  "state": "IL",
  "zip": "62704",
  "category": "Other"
}

Important:
- Extract ONLY the sender's information, NOT the recipient or destination address
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
