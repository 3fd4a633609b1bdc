package docgen

import "html/template"

type letter struct {
	Date       string
	Name       string
	FirstName  string
	Position   string
	Department string
	Company    string
	Country    string
	StartDate  string
	EndDate    string
	Street     string
	Signatory  string
}

var templates = map[string]*template.Template{
	"employment_en": template.Must(template.New("employment_en").Parse(`<article dir="ltr">
<p>Date: {{.Date}}</p>
<h1>To Whom It May Concern</h1>
<p>This is to certify that <strong>{{.Name}}</strong> is employed by {{.Company}}{{if .Position}} as {{.Position}}{{end}}{{if .Department}} in the {{.Department}} department{{end}}.</p>
<p>This letter has been issued upon the request of {{.FirstName}} without any liability on the company.</p>
<p>Sincerely,</p>
<p>{{.Signatory}}<br>People &amp; Culture<br>{{.Company}}</p>
</article>`)),

	"employment_ar": template.Must(template.New("employment_ar").Parse(`<article dir="rtl" lang="ar">
<p>التاريخ: {{.Date}}</p>
<h1>إلى من يهمه الأمر</h1>
<p>نشهد بأن السيد/ة <strong>{{.Name}}</strong> يعمل لدى {{.Company}}{{if .Position}} بوظيفة {{.Position}}{{end}}.</p>
<p>أعطيت هذه الشهادة بناء على طلبه/ا دون أدنى مسؤولية على الشركة.</p>
<p>{{.Signatory}}<br>الموارد البشرية<br>{{.Company}}</p>
</article>`)),

	"experience": template.Must(template.New("experience").Parse(`<article dir="ltr">
<p>Date: {{.Date}}</p>
<h1>Experience Certificate</h1>
<p>This is to certify that <strong>{{.Name}}</strong> has worked with {{.Company}}{{if .Position}} as {{.Position}}{{end}}{{if .Department}} within the {{.Department}} department{{end}}.</p>
<p>During this period {{.FirstName}} demonstrated professionalism and commitment. We wish {{.FirstName}} every success.</p>
<p>{{.Signatory}}<br>People &amp; Culture<br>{{.Company}}</p>
</article>`)),

	"embassy": template.Must(template.New("embassy").Parse(`<article dir="ltr">
<p>Date: {{.Date}}</p>
<p>To: The Embassy of {{.Country}}</p>
<h1>Employment Letter</h1>
<p>This is to certify that <strong>{{.Name}}</strong> is employed by {{.Company}}{{if .Position}} as {{.Position}}{{end}}.</p>
<p>{{.FirstName}} intends to travel to {{.Country}} from {{.StartDate}} to {{.EndDate}} and will resume work upon return. The company has approved this leave.</p>
<p>Sincerely,</p>
<p>{{.Signatory}}<br>People &amp; Culture<br>{{.Company}}</p>
</article>`)),

	"service_agreement": template.Must(template.New("service_agreement").Parse(`<article dir="ltr">
<h1>Service Agreement</h1>
<p>This agreement is made on {{.Date}} between {{.Company}} ("the Company") and <strong>{{.Name}}</strong>{{if .Street}}, residing at {{.Street}}{{end}} ("the Service Provider").</p>
<p>The Service Provider agrees to perform the services assigned by the Company in accordance with its policies.</p>
<p>Signed for the Company: ____________________</p>
<p>Signed by {{.Name}}: ____________________</p>
</article>`)),
}

const page = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
</body>
</html>
`
